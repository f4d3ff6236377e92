// Package main is the entry point of the choices demo server. It exposes
// an example service configuration over HTTP and keeps it in sync with a
// YAML file.
package main

func main() {
	Execute()
}
