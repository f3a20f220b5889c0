package reference

import (
	"context"

	"db-clone/internal/dialect"
	"db-clone/internal/schema"
)

// Keyword routes the reference by a keyword stored next to the id, as tag values do
// ("page", "file", "folder"). Keywords compare case-insensitively.
//
// Parameters: column, keyword_column, keywords ("page=page,file=contentfile,text=-").
type Keyword struct {
	router
}

var _ Descriptor = (*Keyword)(nil)
var _ ValueFilter = (*Keyword)(nil)

func NewKeyword(name string, table *schema.Table) *Keyword {
	return &Keyword{router: router{base: base{name: name, table: table}}}
}

func (k *Keyword) Init(ctx context.Context, q dialect.Queryer, tables *schema.Registry, params map[string]string) error {
	if err := k.init(params); err != nil {
		return err
	}
	k.discColumn = params["keyword_column"]
	if k.discColumn == "" {
		return k.errorf("missing parameter keyword_column")
	}
	if err := k.parseRoutes(params["keywords"], tables, func(s string) any { return s }); err != nil {
		return err
	}
	return k.finish()
}
