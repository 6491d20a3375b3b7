package service

import "fmt"

// requireExactlyOne guards conditional UPDATEs whose WHERE clause encodes a
// state precondition. Zero rows means the precondition no longer held.
func requireExactlyOne(rows int64, operation string) error {
	if rows != 1 {
		return fmt.Errorf("%s: expected one row, affected %d", operation, rows)
	}
	return nil
}
