package main

// The sql backend accepts any registered database/sql driver; sqlite3 is
// linked in so store.sql.driver: sqlite3 works without a server.
import _ "github.com/mattn/go-sqlite3"
