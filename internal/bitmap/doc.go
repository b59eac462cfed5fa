// Package bitmap provides RowSet, a compressed set of row indices used to
// collect removals per batch during migration planning.
package bitmap
