package schema

import "time"

// Record is implemented by every resource that can live in a console list.
type Record interface {
	RecordID() string
}

// Identity is an agent persona: name, tone and system instructions.
type Identity struct {
	ID           ID        `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Personality  string    `json:"personality,omitempty"`
	Instructions string    `json:"instructions,omitempty"`
	Metadata     Metadata  `json:"metadata,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

func (i Identity) RecordID() string { return string(i.ID) }

// Agent binds an identity to a model and its data sources.
type Agent struct {
	ID          ID        `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IdentityID  ID        `json:"identity_id,omitempty"`
	Model       string    `json:"model,omitempty"`
	Status      string    `json:"status,omitempty"`
	DatabaseIDs []ID      `json:"database_ids,omitempty"`
	Config      Metadata  `json:"config,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

func (a Agent) RecordID() string { return string(a.ID) }

// Conversation is a chat thread between a user and an agent.
type Conversation struct {
	ID        ID        `json:"id"`
	Name      string    `json:"name"`
	AgentID   ID        `json:"agent_id,omitempty"`
	UserID    ID        `json:"user_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Messages  []Message `json:"messages,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

func (c Conversation) RecordID() string { return string(c.ID) }

// Message is one turn of a conversation.
type Message struct {
	ID             ID        `json:"id"`
	ConversationID ID        `json:"conversation_id"`
	Role           string    `json:"role"` // user, assistant, system
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}

func (m Message) RecordID() string { return string(m.ID) }

// Database is an external data source an agent may query.
type Database struct {
	ID        ID        `json:"id"`
	Name      string    `json:"name"`
	Engine    string    `json:"engine,omitempty"`
	Host      string    `json:"host,omitempty"`
	Port      int       `json:"port,omitempty"`
	Database  string    `json:"database,omitempty"`
	Status    string    `json:"status,omitempty"`
	Options   Metadata  `json:"options,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

func (d Database) RecordID() string { return string(d.ID) }

// Memory is a stored fact an agent can recall.
type Memory struct {
	ID         ID        `json:"id"`
	Name       string    `json:"name"`
	AgentID    ID        `json:"agent_id,omitempty"`
	Content    string    `json:"content,omitempty"`
	Importance float64   `json:"importance,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	Metadata   Metadata  `json:"metadata,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

func (m Memory) RecordID() string { return string(m.ID) }

// DataFlow moves data between a source and a destination on a schedule.
type DataFlow struct {
	ID          ID        `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	SourceID    ID        `json:"source_id,omitempty"`
	TargetID    ID        `json:"target_id,omitempty"`
	Schedule    string    `json:"schedule,omitempty"`
	Enabled     bool      `json:"enabled"`
	Config      Metadata  `json:"config,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

func (d DataFlow) RecordID() string { return string(d.ID) }
