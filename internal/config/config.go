// Package config turns the declarative copy definition into the runtime objects of a run:
// the table registry, initialised reference descriptors, bound modificators, the
// exclusion policy and the root selection.
package config

import (
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"github.com/zeebo/errs"
)

// Error is the class of configuration errors.
var Error = errs.Class("config")

// Copy is the "copy" section of db-clone.yaml.
type Copy struct {
	Schema       string        `mapstructure:"schema"`
	Mode         string        `mapstructure:"mode"`
	Root         Root          `mapstructure:"root"`
	Tables       []Table       `mapstructure:"tables"`
	References   []Reference   `mapstructure:"references"`
	Modificators []Modificator `mapstructure:"modificators"`
	Exclusions   []Exclusion   `mapstructure:"exclusions"`
	// Properties fill ${name} tokens in restrict clauses and descriptor queries.
	Properties map[string]any `mapstructure:"properties"`
	// AutoReferences derives a column reference from every foreign key between
	// configured tables that no configured reference covers.
	AutoReferences bool   `mapstructure:"auto_references"`
	VersionTable   string `mapstructure:"version_table"`
}

type Root struct {
	Table  string `mapstructure:"table"`
	Where  string `mapstructure:"where"`
	Params []any  `mapstructure:"params"`
}

type Table struct {
	Name       string   `mapstructure:"name"`
	IDColumn   string   `mapstructure:"id_column"`
	Restrict   string   `mapstructure:"restrict"`
	Cross      bool     `mapstructure:"cross"`
	KeyColumns []string `mapstructure:"key_columns"`
	// Columns limits the copied columns; empty means all, read from the catalog.
	Columns []string `mapstructure:"columns"`
	Naming  Naming   `mapstructure:"naming"`
}

type Naming struct {
	Column     string          `mapstructure:"column"`
	Join       *NameJoin       `mapstructure:"join"`
	Definition *NameDefinition `mapstructure:"definition"`
}

type NameJoin struct {
	Table  string `mapstructure:"table"`
	Column string `mapstructure:"column"`
	Key    string `mapstructure:"key"`
}

type NameDefinition struct {
	Column string `mapstructure:"column"`
	Table  string `mapstructure:"table"`
}

type Reference struct {
	Table  string            `mapstructure:"table"`
	Name   string            `mapstructure:"name"`
	Type   string            `mapstructure:"type"`
	Params map[string]string `mapstructure:"params"`
}

type Modificator struct {
	Table   string            `mapstructure:"table"`
	Type    string            `mapstructure:"type"`
	Actions []string          `mapstructure:"actions"`
	Modes   []string          `mapstructure:"modes"`
	Params  map[string]string `mapstructure:"params"`
}

// Exclusion excludes rows of a table by id list, by predicate, or both.
type Exclusion struct {
	Table    string  `mapstructure:"table"`
	Decision string  `mapstructure:"decision"`
	IDs      []int64 `mapstructure:"ids"`
	Where    string  `mapstructure:"where"`
}

// Load decodes the copy definition stored under key.
func Load(v *viper.Viper, key string) (*Copy, error) {
	if !v.IsSet(key) {
		return nil, Error.New("no %q section in config", key)
	}
	var c Copy
	if err := v.UnmarshalKey(key, &c); err != nil {
		return nil, Error.New("failed to parse %s config: %v", key, err)
	}
	return &c, nil
}

// SetProperty sets a property given as name=value. Integer values are bound as numbers.
func (c *Copy) SetProperty(kv string) error {
	name, value, ok := strings.Cut(kv, "=")
	if !ok || strings.TrimSpace(name) == "" {
		return Error.New("property %q is not name=value", kv)
	}
	if c.Properties == nil {
		c.Properties = make(map[string]any)
	}
	c.Properties[strings.ToLower(strings.TrimSpace(name))] = ParseValue(value)
	return nil
}

// ParseValue reads a command line value: integers become int64, everything else stays a string.
func ParseValue(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}

func (c *Copy) properties() map[string]any {
	props := make(map[string]any, len(c.Properties))
	for k, v := range c.Properties {
		props[strings.ToLower(k)] = v
	}
	return props
}
