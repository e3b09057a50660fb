// Command hashkey generates a bcrypt hash of an admin API key for use
// as the ADMIN_KEY_HASH environment variable.
package main

import (
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: hashkey <admin-key>")
		os.Exit(1)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(os.Args[1]), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}

	fmt.Printf("ADMIN_KEY_HASH=%s\n", hash)
}
