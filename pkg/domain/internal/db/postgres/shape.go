package postgres

import (
	"github.com/opst/xtstore/pkg/conn/db/postgres/executor"
	"github.com/opst/xtstore/pkg/domain"
)

// text columns holding JSON documents.
var jsonColumns = map[string]bool{
	"metric_names":     true,
	"pool_info":        true,
	"service_job_info": true,
	"service_info":     true,
	"connect_info":     true,
}

// slot tells where a column goes.
type slot struct {
	nest   string
	name   string
	skip   bool
	inline bool
}

// Nest rebuilds documents from the result of a Select of the layout.
//
// Columns after the marker of a nested group are put in the sub-document of the group,
// without identity columns and NULLs. The sub-document is present whenever its marker is selected.
// Other columns are put in the top level. When names conflict, the first one wins.
func Nest(layout *Layout, res executor.Result) []domain.Document {
	markers := map[string]Group{}
	for _, g := range layout.Groups {
		markers[marker(g)] = g
	}

	slots := make([]slot, len(res.Columns))
	nests := []string{}
	current := ""
	for i, name := range res.Columns {
		if g, ok := markers[name]; ok {
			current = g.Nest
			if current != "" {
				nests = append(nests, current)
			}
			slots[i] = slot{skip: true}
			continue
		}
		slots[i] = slot{
			nest:   current,
			name:   name,
			skip:   current != "" && (name == "_id" || name == "workspace"),
			inline: current == "",
		}
	}

	docs := make([]domain.Document, 0, len(res.Rows))
	for _, row := range res.Rows {
		doc := domain.Document{}
		subs := make(map[string]domain.Document, len(nests))
		for _, n := range nests {
			subs[n] = domain.Document{}
			doc[n] = subs[n]
		}

		for i, v := range row {
			if i >= len(slots) {
				break
			}
			s := slots[i]
			switch {
			case s.skip:
			case s.inline:
				if _, ok := doc[s.name]; ok {
					continue
				}
				if jsonColumns[s.name] {
					v = inflate(v)
				}
				doc[s.name] = v
			case v != nil:
				if _, ok := subs[s.nest][s.name]; ok {
					continue
				}
				subs[s.nest][s.name] = v
			}
		}
		docs = append(docs, doc)
	}
	return docs
}
