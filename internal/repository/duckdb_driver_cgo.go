//go:build cgo

package repository

// go-duckdb需要cgo，仅在启用cgo时注册duckdb驱动
import _ "github.com/marcboeker/go-duckdb"
