package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"db-clone/internal/dialect"

	"go.uber.org/zap"
)

// ---------------------------------------------------------------------
// 1. Catalog Introspection
// ---------------------------------------------------------------------

// Introspect completes the registered tables from the database catalog.
// Tables configured without columns get the full column list, configured columns
// keep their selection and get the catalog metadata; a missing id column
// (or cross-table key) is taken from the primary key. Foreign keys are attached to
// every registered table so references can be derived from them.
func Introspect(ctx context.Context, q dialect.Queryer, d dialect.Dialect, schemaName string, reg *Registry) error {
	target := d.GetSchemaName(schemaName)

	// --- Step 1: Check Tables ---
	rows, err := q.QueryContext(ctx, d.GetTablesQuery(target), target)
	if err != nil {
		return fmt.Errorf("failed to query tables: %w", err)
	}
	found := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan table name: %w", err)
		}
		found[strings.ToUpper(name)] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("error iterating tables: %w", err)
	}
	rows.Close()

	for _, t := range reg.Tables() {
		if !found[strings.ToUpper(t.Name)] {
			return fmt.Errorf("table %s not found in schema %s", t.Name, target)
		}
	}

	// Only tables without configured columns are completed.
	complete := make(map[string]bool)
	for _, t := range reg.Tables() {
		if len(t.Columns) == 0 {
			complete[strings.ToUpper(t.Name)] = true
		}
	}
	// --- Step 2: Fetch Primary Keys ---
	pkCols := make(map[string][]string)
	pkRows, err := q.QueryContext(ctx, d.GetPrimaryKeysQuery(target), target)
	if err != nil {
		return fmt.Errorf("failed to query primary keys: %w", err)
	}
	for pkRows.Next() {
		var tName, cName string
		if err := pkRows.Scan(&tName, &cName); err != nil {
			pkRows.Close()
			return fmt.Errorf("failed to scan primary key: %w", err)
		}
		if t, ok := reg.Get(tName); ok {
			key := strings.ToUpper(t.Name)
			pkCols[key] = append(pkCols[key], cName)
		}
	}
	if err := pkRows.Err(); err != nil {
		pkRows.Close()
		return fmt.Errorf("error iterating primary keys: %w", err)
	}
	pkRows.Close()

	// --- Step 3: Fetch Columns ---
	colRows, err := q.QueryContext(ctx, d.GetColumnsQuery(target), target)
	if err != nil {
		return fmt.Errorf("failed to query columns: %w", err)
	}
	defer colRows.Close()

	described := make(map[string]bool)
	for colRows.Next() {
		var tName, cName, dType, cLen, isNull, cKey, extra, comment sql.NullString

		if err := colRows.Scan(&tName, &cName, &dType, &cLen, &isNull, &cKey, &extra, &comment); err != nil {
			return fmt.Errorf("failed to scan column (table: %s): %w", tName.String, err)
		}
		if !tName.Valid || !cName.Valid {
			continue
		}

		t, ok := reg.Get(tName.String)
		if !ok {
			continue
		}
		key := strings.ToUpper(t.Name)
		var col *Column
		if complete[key] {
			col = &Column{Name: cName.String}
			t.Columns = append(t.Columns, col)
		} else if col, ok = t.Column(cName.String); !ok {
			// Configured tables select only their listed columns.
			continue
		}
		described[key+"."+strings.ToUpper(col.Name)] = true

		isAutoInc := false
		if extra.Valid {
			extraLower := strings.ToLower(extra.String)
			isAutoInc = strings.Contains(extraLower, "auto_increment") ||
				strings.Contains(extraLower, "identity") ||
				strings.Contains(extraLower, "nextval")
		}

		col.DataType = d.NormalizeType(dType.String)
		col.IsNullable = isNull.String == "YES"
		col.IsPK = strings.Contains(cKey.String, "PRI")
		col.IsAutoInc = isAutoInc
		col.Comment = comment.String
		col.Meaning = AnalyzeMeaning(col.Name, comment.String)
		if cLen.Valid && cLen.String != "" {
			var length int
			if _, err := fmt.Sscanf(cLen.String, "%d", &length); err == nil {
				col.Length = length
			}
		}
	}
	if err := colRows.Err(); err != nil {
		return fmt.Errorf("error iterating columns: %w", err)
	}
	for _, t := range reg.Tables() {
		for _, c := range t.Columns {
			if !described[strings.ToUpper(t.Name)+"."+strings.ToUpper(c.Name)] {
				return fmt.Errorf("column %s not found in table %s", c.Name, t.Name)
			}
		}
	}

	for _, t := range reg.Tables() {
		pk := pkCols[strings.ToUpper(t.Name)]
		if t.CrossTable && len(t.KeyColumns) == 0 {
			t.KeyColumns = pk
		}
		if !t.CrossTable && complete[strings.ToUpper(t.Name)] && len(pk) == 1 {
			if _, ok := t.Column(t.IDColumn); !ok {
				t.IDColumn = pk[0]
			}
		}
	}

	// --- Step 4: Fetch Foreign Keys ---
	fkRows, err := q.QueryContext(ctx, d.GetForeignKeysQuery(target), target)
	if err != nil {
		return fmt.Errorf("failed to query foreign keys: %w", err)
	}
	defer fkRows.Close()

	for fkRows.Next() {
		var tName, cConst, cName, rTable, rCol sql.NullString
		if err := fkRows.Scan(&tName, &cConst, &cName, &rTable, &rCol); err != nil {
			return fmt.Errorf("failed to scan foreign key: %w", err)
		}
		if !tName.Valid || !rTable.Valid {
			continue
		}
		t, ok := reg.Get(tName.String)
		if !ok {
			continue
		}
		// External references (to tables outside the copy) are kept as plain data.
		ref, ok := reg.Get(rTable.String)
		if !ok {
			continue
		}
		t.ForeignKeys = append(t.ForeignKeys, &ForeignKey{
			Column:    cName.String,
			RefTable:  ref.Name,
			RefColumn: rCol.String,
		})
	}
	if err := fkRows.Err(); err != nil {
		return fmt.Errorf("error iterating foreign keys: %w", err)
	}

	return reg.Validate()
}

// ---------------------------------------------------------------------
// 2. Sorting Algorithm (Topological / Greedy)
// ---------------------------------------------------------------------

// SortTables sorts tables by dependency order.
// It handles circular dependencies by using a scoring system.
func SortTables(tables []*Table, log *zap.Logger) []*Table {
	var sorted []*Table
	processed := make(map[string]bool)
	byName := make(map[string]*Table, len(tables))
	for _, t := range tables {
		byName[t.Name] = t
	}

	// Keep looping until all tables are processed
	for len(sorted) < len(tables) {
		added := false

		// Pass 1: Add tables whose dependencies are fully satisfied
		for _, t := range tables {
			if processed[t.Name] {
				continue
			}

			allDepsProcessed := true
			for _, depName := range t.Dependencies {
				if _, known := byName[depName]; known && !processed[depName] {
					allDepsProcessed = false
					break
				}
			}

			if allDepsProcessed {
				sorted = append(sorted, t)
				processed[t.Name] = true
				added = true
			}
		}

		// Pass 2: If no table added, we have a cycle. Break it using heuristic score.
		if !added {
			var bestTable *Table
			bestScore := -999999

			for _, t := range tables {
				if processed[t.Name] {
					continue
				}

				// Penalty: Number of Unprocessed dependencies (Prefer fewer dependencies)
				// Bonus: Participation in a two-table cycle (Prefer breaking cycles early)
				score := 0
				isCircular := false
				for _, depName := range t.Dependencies {
					dep, known := byName[depName]
					if !known || processed[depName] {
						continue
					}
					score -= 100
					for _, candDep := range dep.Dependencies {
						if candDep == t.Name {
							isCircular = true
						}
					}
				}
				if isCircular {
					score += 500
				}

				// Tie-breaker: Name (Deterministic)
				if score > bestScore || (score == bestScore && (bestTable == nil || t.Name > bestTable.Name)) {
					bestScore = score
					bestTable = t
				}
			}

			if bestTable == nil {
				log.Error("deadlock in table sort, remaining tables cannot be sorted")
				break
			}
			sorted = append(sorted, bestTable)
			processed[bestTable.Name] = true
			log.Debug("breaking circular dependency", zap.String("table", bestTable.Name), zap.Int("score", bestScore))
		}
	}

	return sorted
}
