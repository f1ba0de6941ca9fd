// Command loom runs the infinite canvas daemon and inspects stored canvases.
package main

func main() {
	Execute()
}
