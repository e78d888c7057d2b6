package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Loan Decisioning Engine Configuration

[decisioning]
# Lending policy: "conservative", "balanced" or "aggressive"
policy = "balanced"
# Deadline for each analysis branch (e.g., "30s", "2m")
branch_timeout = "30s"
# Maximum deliberation rounds (1-10)
max_rounds = 2
# Stop deliberating early: "never" or "unanimous"
early_exit = "never"
# Reject when more red flags than this are raised across branches
red_flag_limit = 3

[deliberation]
topic = "Application Risk Assessment and Approval Recommendation"

[providers]
# Attempts per analysis provider call
retry_attempts = 2
retry_initial_delay = "500ms"
# Consecutive backend failures before a provider is skipped, and for how long
breaker_threshold = 5
breaker_cooldown = "1m"

[llm]
# Use OpenAI-backed analysts (requires credentials.toml or OPENAI_API_KEY)
enabled = false
model = "gpt-4o-mini"
temperature = 0.2

[store]
# SQLite database for decisions and processing status
# path = "~/.config/loanai/loanai.db"

[logging]
# Log level: debug, info, warn, error
level = "info"
console = true
file = true
# file_path = "~/.config/loanai/logs/loanai.log"
max_size = 100
max_backups = 7
max_age = 30
`

const credentialsTemplate = `# Loan Decisioning Engine Credentials
# WARNING: Keep this file secure! Do not commit to version control.

[openai]
api_key = ""
`

// createTemplate writes a template file and returns its path.
func createTemplate(configDir, name, content string, perm os.FileMode) (string, error) {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name)
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		return "", fmt.Errorf("writing %s template: %w", name, err)
	}

	return path, nil
}
