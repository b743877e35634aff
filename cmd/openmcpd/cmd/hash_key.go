package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openmcpd/openmcpd/internal/domain/security"
)

var hashKeyArgon2id bool

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Generate a hash for an API key",
	Long: `Generate a hash of an API key for use in config.

By default the output is "sha256:<hex>", usable directly in the
auth.keys.hash field. With --argon2id the output is an Argon2id PHC
string, which is slower to verify but resistant to brute force.

Example:
  openmcpd hash-key "my-secret-api-key"
  # Output: sha256:7d5e8c...

  openmcpd hash-key --argon2id "my-secret-api-key"
  # Output: $argon2id$v=19$...

Security note: the key will appear in shell history. Consider clearing
history after use or passing an environment variable:
  openmcpd hash-key "$MY_API_KEY"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		if hashKeyArgon2id {
			hash, err := security.HashKeyArgon2id(key)
			if err != nil {
				return fmt.Errorf("failed to hash key: %w", err)
			}
			fmt.Println(hash)
			return nil
		}
		fmt.Println(security.HashKey(key))
		return nil
	},
}

func init() {
	hashKeyCmd.Flags().BoolVar(&hashKeyArgon2id, "argon2id", false, "output an Argon2id PHC hash instead of sha256")
	rootCmd.AddCommand(hashKeyCmd)
}
