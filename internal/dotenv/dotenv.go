package dotenv

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Load reads env files into the process environment without overriding
// variables that are already set. With no arguments it loads ./.env and a
// missing file is not an error; explicitly named files must exist.
func Load(paths ...string) error {
	if len(paths) == 0 {
		if err := godotenv.Load(); err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}
