// Package app contains the service harness around a runtime context. It
// defines the main App struct, its layered configuration, the HTTP surface
// and the metrics registry, decoupled from any specific entrypoint like a
// CLI.
package app
