/*
Package database manages the GORM connection pool for the SQL backend.

PoolManager wraps GORM and the underlying sql.DB: it applies pool sizing,
runs a background health check, and offers transaction helpers with retry
for transient serialization failures. Open builds the *gorm.DB for the
configured driver (postgres or sqlite).
*/
package database
