package main

import "github.com/ValentinKolb/btcache/cmd"

func main() {
	cmd.Execute()
}
