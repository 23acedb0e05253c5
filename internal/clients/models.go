package clients

// Capabilities granted to every client at registration.
var DefaultCapabilities = []string{"token:issue", "token:validate"}

// Client is stored as plain JSON under client:<id>.
type Client struct {
	ClientID     string   `json:"clientId"`
	CreatedAt    int64    `json:"createdAt"`
	Capabilities []string `json:"cap"`
}

type Page struct {
	Clients    []Client
	Limit      int
	NextCursor string
	HasMore    bool
}

type MigrationReport struct {
	Scanned  int
	Migrated int
	Skipped  int
}
