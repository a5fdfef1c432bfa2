// Package context carries the executing job and its worker through
// context.Context. Handlers read it through the public jobctx package.
package context
