package connection

import "github.com/GriffinCanCode/webterm/internal/vfs"

// Filesystem change notifications fan out to every connection of the
// session, terminal and file sockets alike.

func (h *Hub) FileUpdated(sessionID, actor string, f *vfs.File) {
	h.BroadcastToSession(sessionID, FileUpdatedMessage(f, actor))
}

func (h *Hub) FileDeleted(sessionID, actor, p string) {
	h.BroadcastToSession(sessionID, FileDeletedMessage(p, actor))
}

func (h *Hub) FileRenamed(sessionID, actor, from, to string) {
	h.BroadcastToSession(sessionID, FileRenamedMessage(from, to, actor))
}

func (h *Hub) FolderCreated(sessionID, _, name, fullPath, parent string) {
	h.BroadcastToSession(sessionID, FolderCreatedMessage(name, fullPath, parent))
}
