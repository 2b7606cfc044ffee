// Command sender connects to a relay server and periodically sends canned messages.
package main

func main() {
	Execute()
}
