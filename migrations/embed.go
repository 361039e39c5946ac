// Package migrations holds the SQL schema applied by "carematch migrate up".
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
