// Package store declares the tenant, contractor, and appointment models shared
// by the API, the reconciliation engine, and the worker. Persistence lives in
// storage/postgres; this package must not import database drivers.
package store
