package engine

import (
	"sort"
	"strings"
	"time"

	"db-clone/internal/object"
)

// TableResult counts the actions taken on the objects of one table.
type TableResult struct {
	Table   string `yaml:"table"`
	Created int    `yaml:"created"`
	Updated int    `yaml:"updated"`
	Ignored int    `yaml:"ignored"`
}

// Exclusion is an object left out of the copy with a note.
type Exclusion struct {
	Table string `yaml:"table"`
	ID    int64  `yaml:"id"`
	Name  string `yaml:"name"`
}

// Result describes a finished run.
type Result struct {
	Mode   Mode           `yaml:"mode"`
	Tables []*TableResult `yaml:"tables"`
	// IDs maps original to new ids per table.
	IDs      map[string]map[int64]int64 `yaml:"ids"`
	Excluded []Exclusion                `yaml:"excluded,omitempty"`
	Phases   map[string]string          `yaml:"phases"`

	byTable map[string]*TableResult
}

func newResult(mode Mode) *Result {
	return &Result{
		Mode:    mode,
		IDs:     make(map[string]map[int64]int64),
		Phases:  make(map[string]string),
		byTable: make(map[string]*TableResult),
	}
}

func (r *Result) record(obj *object.Object, action object.Action) {
	name := obj.Table.Name
	tr, ok := r.byTable[strings.ToLower(name)]
	if !ok {
		tr = &TableResult{Table: name}
		r.byTable[strings.ToLower(name)] = tr
		r.Tables = append(r.Tables, tr)
	}
	switch action {
	case object.Created:
		tr.Created++
		if obj.Table.CrossTable {
			break
		}
		if r.IDs[name] == nil {
			r.IDs[name] = make(map[int64]int64)
		}
		r.IDs[name][obj.ID] = obj.NewID
	case object.Updated:
		tr.Updated++
	case object.Ignored:
		tr.Ignored++
	}
}

func (r *Result) timePhase(p Phase, d time.Duration) {
	r.Phases[p.String()] = d.Round(time.Millisecond).String()
}

// NewID returns the id created for a row, 0 if none was created.
func (r *Result) NewID(table string, id int64) int64 {
	for t, ids := range r.IDs {
		if strings.EqualFold(t, table) {
			return ids[id]
		}
	}
	return 0
}

// Table returns the counts of one table.
func (r *Result) Table(name string) TableResult {
	if tr, ok := r.byTable[strings.ToLower(name)]; ok {
		return *tr
	}
	return TableResult{Table: name}
}

// Total returns the number of rows created.
func (r *Result) Total() int {
	n := 0
	for _, t := range r.Tables {
		n += t.Created
	}
	return n
}

func (r *Result) sortExcluded() {
	sort.Slice(r.Excluded, func(i, j int) bool {
		if r.Excluded[i].Table != r.Excluded[j].Table {
			return r.Excluded[i].Table < r.Excluded[j].Table
		}
		return r.Excluded[i].ID < r.Excluded[j].ID
	})
}
