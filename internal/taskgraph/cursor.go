package taskgraph

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/txgraph/internal/txerrors"
)

// EncodeCursor produces the "<score>:<id>" cursor format from §6.
func EncodeCursor(score int, id string) string {
	return fmt.Sprintf("%d:%s", score, id)
}

// DecodeCursor parses the "<score>:<id>" format back into a Cursor.
func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return nil, txerrors.New(txerrors.Validation, "malformed cursor")
	}
	score, err := strconv.Atoi(s[:idx])
	if err != nil {
		return nil, txerrors.New(txerrors.Validation, "malformed cursor")
	}
	return &Cursor{Score: score, ID: s[idx+1:]}, nil
}
