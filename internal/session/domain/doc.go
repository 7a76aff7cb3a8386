// Package domain defines the session and gesture-effect model shared by the
// storage and service layers.
package domain
