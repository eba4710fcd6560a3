package postgres_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/opst/xtstore/pkg/conn/db/postgres/executor"
	"github.com/opst/xtstore/pkg/domain"
	"github.com/opst/xtstore/pkg/domain/internal/db/postgres"
)

func TestNest(t *testing.T) {
	t.Run("columns are nested by markers", func(t *testing.T) {
		res := executor.Result{
			Columns: []string{
				"_run_info_", "_id", "workspace", "run_name",
				"_run_stats_", "_id", "workspace", "status", "metric_names",
				"_hparams_", "_id", "workspace", "lr", "opt",
				"_metrics_", "_id", "workspace",
			},
			Rows: [][]any{
				{
					"", "ws1/run1", "ws1", "run1",
					"", "ws1/run1", "ws1", "completed", `["loss","acc"]`,
					"", "ws1/run1", "ws1", 0.01, nil,
					"", nil, nil,
				},
				{
					"", "ws1/run2", "ws1", "run2",
					"", nil, nil, nil, nil,
					"", nil, nil, nil, nil,
					"", nil, nil,
				},
			},
		}

		got := postgres.Nest(postgres.Runs, res)
		want := []domain.Document{
			{
				"_id": "ws1/run1", "workspace": "ws1", "run_name": "run1",
				"status": "completed", "metric_names": []any{"loss", "acc"},
				"hparams": domain.Document{"lr": 0.01},
				"metrics": domain.Document{},
			},
			{
				"_id": "ws1/run2", "workspace": "ws1", "run_name": "run2",
				"status": nil, "metric_names": nil,
				"hparams": domain.Document{},
				"metrics": domain.Document{},
			},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("documents (-want +got):\n%s", diff)
		}
	})

	t.Run("only selected bags are nested", func(t *testing.T) {
		res := executor.Result{
			Columns: []string{"_run_info_", "_id", "_hparams_", "lr"},
			Rows:    [][]any{{"", "ws1/run1", "", 0.01}},
		}

		got := postgres.Nest(postgres.Runs, res)
		want := []domain.Document{
			{"_id": "ws1/run1", "hparams": domain.Document{"lr": 0.01}},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("documents (-want +got):\n%s", diff)
		}
	})

	t.Run("JSON columns which are not JSON are kept", func(t *testing.T) {
		res := executor.Result{
			Columns: []string{"_node_info_", "_id", "service_info"},
			Rows:    [][]any{{"", "ws1/job1/0", "not json"}},
		}

		got := postgres.Nest(postgres.Nodes, res)
		want := []domain.Document{{"_id": "ws1/job1/0", "service_info": "not json"}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("documents (-want +got):\n%s", diff)
		}
	})
}
