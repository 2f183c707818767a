// Command admintoken prints a bearer token for the operator endpoints.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"relief/internal/auth"
	"relief/internal/config"
)

func main() {
	ttl := flag.Duration("ttl", 24*time.Hour, "token validity")
	flag.Parse()

	config.LoadEnvironment()
	settings := config.LoadEnvironmentConfig()

	token, err := auth.GenerateToken(auth.OperatorSubject, []byte(settings.AdminJWTSecret), *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ADMIN_JWT_SECRET must be set:", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
