package connection

import (
	"time"

	"github.com/GriffinCanCode/webterm/internal/shared/id"
	"github.com/GriffinCanCode/webterm/internal/vfs"
	"github.com/bytedance/sonic"
)

// Outbound message types
const (
	TypeConnectionEstablished = "connection_established"
	TypePong                  = "pong"
	TypeCommandResponse       = "command_response"
	TypeFileUpdated           = "file_updated"
	TypeFileDeleted           = "file_deleted"
	TypeFileRenamed           = "file_renamed"
	TypeFileListResponse      = "file_list_response"
	TypeFileContent           = "file_content"
	TypeFolderCreated         = "folder_created"
	TypeError                 = "error"
)

// Message is an outbound JSON object. Every message carries type,
// timestamp and message_id.
type Message map[string]any

// NewMessage creates a message envelope of the given type
func NewMessage(typ string) Message {
	return Message{
		"type":       typ,
		"timestamp":  time.Now().Unix(),
		"message_id": id.NewMessageID(),
	}
}

// With sets a field and returns the message for chaining
func (m Message) With(key string, value any) Message {
	m[key] = value
	return m
}

// Type returns the message's type field
func (m Message) Type() string {
	typ, _ := m["type"].(string)
	return typ
}

// Encode serializes the message
func (m Message) Encode() ([]byte, error) {
	return sonic.Marshal(m)
}

// ErrorMessage builds an error reply
func ErrorMessage(code, message string) Message {
	return NewMessage(TypeError).
		With("error_code", code).
		With("message", message)
}

// FileUpdatedMessage announces a written file
func FileUpdatedMessage(f *vfs.File, actor string) Message {
	msg := NewMessage(TypeFileUpdated).
		With("filename", f.Path).
		With("content", f.Content).
		With("updated_by", actor)
	if f.Language != "" {
		msg["language"] = f.Language
	}
	return msg
}

// FileDeletedMessage announces a removed file or directory
func FileDeletedMessage(p, actor string) Message {
	return NewMessage(TypeFileDeleted).
		With("filename", p).
		With("deleted_by", actor)
}

// FileRenamedMessage announces a move
func FileRenamedMessage(from, to, actor string) Message {
	return NewMessage(TypeFileRenamed).
		With("old_filename", from).
		With("new_filename", to).
		With("renamed_by", actor)
}

// FolderCreatedMessage announces a new directory
func FolderCreatedMessage(name, fullPath, parent string) Message {
	return NewMessage(TypeFolderCreated).
		With("foldername", name).
		With("folderpath", fullPath).
		With("parent_path", parent)
}
