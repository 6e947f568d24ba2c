// Command wildfs manages containers and files of a wildfs tree and serves it over HTTP.
package main

func main() {
	Execute()
}
