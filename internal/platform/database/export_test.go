package database

var (
	MigrateURL = migrateURL
	PoolConfig = poolConfig
)
