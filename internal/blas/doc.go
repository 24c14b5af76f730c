// Package blas provides the row-major matrix multiply used to project power
// spectrograms onto the mel filterbank. On darwin with cgo it calls Apple
// Accelerate; elsewhere it runs a pure Go loop.
package blas
