// cmd/circulation/main.go
package main

func main() {
	Execute()
}
