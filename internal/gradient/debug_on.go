//go:build fleetglow_debug

package gradient

const debug = true
