//go:build windows || cgo

package main

// The ODBC driver needs cgo outside Windows (see github.com/alexbrainman/odbc/api).
import _ "github.com/alexbrainman/odbc"
