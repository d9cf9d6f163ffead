package db

import (
	"errors"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// ErrVectorUnavailable marks a query that failed because pgvector (the
// extension, the type, or an embedding column) is not installed.
var ErrVectorUnavailable = errors.New("vector search unavailable")

// pgvector-related SQLSTATEs: undefined_table, undefined_column,
// undefined_function, undefined_object, feature_not_supported
var vectorUnavailableCodes = map[pq.ErrorCode]bool{
	"42P01": true,
	"42703": true,
	"42883": true,
	"42704": true,
	"0A000": true,
}

// IsVectorUnavailable reports whether err means semantic queries cannot run
// on this database, as opposed to a transient failure.
func IsVectorUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrVectorUnavailable) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return vectorUnavailableCodes[pqErr.Code]
	}
	// sqlite and other drivers without vector support
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such column: embedding") ||
		strings.Contains(msg, "no such table: contact_insights")
}

// VectorLiteral formats v as a pgvector text literal ("[0.1,0.2]")
func VectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v)*10 + 2)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
