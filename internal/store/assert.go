package store

var (
	_ Store = (*Postgres)(nil)
	_ Store = (*Memory)(nil)
)
