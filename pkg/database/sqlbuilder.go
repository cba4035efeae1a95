package database

import (
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

// maxRowsPerInsert keeps multi-row inserts under the bind parameter limits of both drivers
const maxRowsPerInsert = 200

func Excluded(column string) string {
	return fmt.Sprintf("%s = EXCLUDED.%s", column, column)
}

type InsertBuilder struct {
	*sqlbuilder.InsertBuilder
}

func NewInsertBuilder(flavor sqlbuilder.Flavor) *InsertBuilder {
	return &InsertBuilder{flavor.NewInsertBuilder()}
}

// OnConflictUpdate turns the insert into an upsert that overwrites columns from the new row
func (ib *InsertBuilder) OnConflictUpdate(conflict []string, columns ...string) *InsertBuilder {
	sets := make([]string, 0, len(columns))
	for _, c := range columns {
		sets = append(sets, Excluded(c))
	}
	ib.SQL(fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(conflict, ", "), strings.Join(sets, ", ")))
	return ib
}

func (ib *InsertBuilder) OnConflictDoNothing() *InsertBuilder {
	ib.SQL("ON CONFLICT DO NOTHING")
	return ib
}

// Chunk splits rows into slices small enough for one multi-row insert
func Chunk[T any](rows []T) [][]T {
	var chunks [][]T
	for len(rows) > 0 {
		n := min(len(rows), maxRowsPerInsert)
		chunks = append(chunks, rows[:n])
		rows = rows[n:]
	}
	return chunks
}
