// Command encrypt-password prints the passwordEncrypted value for a password
// read from stdin, using the same credentials-encryption-key as the server.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/levenlabs/go-lflag"

	"github.com/fluviusenergy/fluviusenergy/pkg/config"
	"github.com/fluviusenergy/fluviusenergy/pkg/log"
)

func main() {
	key := lflag.RequiredString("credentials-encryption-key", "Passphrase used to encrypt the password")
	lflag.Configure()

	ctx := context.Background()
	c, err := config.NewCipher(*key)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to create cipher", slog.Any("error", err))
		os.Exit(1)
	}

	fmt.Fprint(os.Stderr, "password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		log.Ctx(ctx).ErrorContext(ctx, "failed to read password", slog.Any("error", err))
		os.Exit(1)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		log.Ctx(ctx).ErrorContext(ctx, "empty password")
		os.Exit(1)
	}

	enc, err := c.Encrypt(ctx, password)
	if err != nil {
		os.Exit(1)
	}
	fmt.Println(enc)
}
