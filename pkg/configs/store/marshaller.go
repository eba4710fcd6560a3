package store

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EnvDatabase overrides `database` in config files.
const EnvDatabase = "XTSTORE_DATABASE"

// load store config from a file.
//
// When environment variable XTSTORE_DATABASE is set, it is used as `database`.
//
// args:
//   - filepath: filepath refers a config file.
//
// returns *StoreConfig, error:
//
//	When loading success, returns `(*StoreConfig, nil)`.
//	Otherwise, returns `(nil, error)`.
func LoadStoreConfig(filepath string) (*StoreConfig, error) {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}
	m, err := unmarshal(content)
	if err != nil {
		return nil, err
	}
	if db := os.Getenv(EnvDatabase); db != "" {
		m.Database = db
	}
	return seal(m)
}

// Unmarshal parses yaml and seals it.
//
// Misconfigurations are reported as error.
func Unmarshal(conf []byte) (*StoreConfig, error) {
	m, err := unmarshal(conf)
	if err != nil {
		return nil, err
	}
	return seal(m)
}

// Default returns configuration with default values connecting to database.
func Default(database string) *StoreConfig {
	return TrySeal(&StoreConfigMarshall{Database: database})
}

func unmarshal(conf []byte) (*StoreConfigMarshall, error) {
	out := new(StoreConfigMarshall)
	if err := yaml.Unmarshal(conf, out); err != nil {
		return nil, err
	}
	return out, nil
}

func seal(m *StoreConfigMarshall) (out *StoreConfig, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("misconfiguration: %v", r)
		}
	}()
	return TrySeal(m), nil
}
