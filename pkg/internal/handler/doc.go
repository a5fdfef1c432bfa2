// Package handler checks task function signatures and invokes them with a
// decoded job payload. It is used by the registry package only.
package handler
