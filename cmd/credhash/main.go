// Package main hashes a subject credential and prints the SQL that seeds it
// into the subjects table. Use it when SUBJECT_BACKEND=postgres.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	"leadgate/pkg/secrets"
)

func main() {
	name := flag.String("name", "", "subject name (required)")
	role := flag.String("role", "admin", "subject role")
	flag.Parse()

	if err := run(os.Stdin, os.Stdout, *name, *role); err != nil {
		fmt.Fprintln(os.Stderr, "credhash:", err)
		os.Exit(1)
	}
}

// run reads the credential from the first line of in so it never appears in
// shell history.
func run(in io.Reader, out io.Writer, name, role string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("-name is required")
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("read credential: %w", err)
	}
	credential := strings.TrimRight(line, "\r\n")
	hash, err := secrets.Hash(credential)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out,
		"INSERT INTO subjects (subject_id, name, role, password_hash) VALUES ('%s', '%s', '%s', '%s');\n",
		uuid.New(), quote(name), quote(role), hash)
	return err
}

func quote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
