package domain

// CommandKind names an AI-issued canvas command.
type CommandKind string

const (
	CommandCreateNode       CommandKind = "create_node"
	CommandMoveNode         CommandKind = "move_node"
	CommandCreateConnection CommandKind = "create_connection"
)

// Command is an entry of the AI command queue. Commands are validated exactly
// like protocol requests from a regular client.
type Command struct {
	Kind CommandKind `json:"kind" mapstructure:"kind"`

	// create_node
	Geometry Geometry `json:"geometry" mapstructure:"geometry"`
	Label    string   `json:"label,omitempty" mapstructure:"label"`
	Content  Content  `json:"content" mapstructure:"content"`

	// move_node
	Node NodeID  `json:"node_id,omitempty" mapstructure:"node_id"`
	X    float64 `json:"x,omitempty" mapstructure:"x"`
	Y    float64 `json:"y,omitempty" mapstructure:"y"`

	// create_connection
	Source   NodeID         `json:"source,omitempty" mapstructure:"source"`
	Target   NodeID         `json:"target,omitempty" mapstructure:"target"`
	Relation ConnectionKind `json:"relation,omitempty" mapstructure:"relation"`
	Directed bool           `json:"directed,omitempty" mapstructure:"directed"`
}
