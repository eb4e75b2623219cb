package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/dominotes/internal/notes"
	"github.com/gin-gonic/gin"
)

var noteMessages = struct {
	list, get, create, update, remove entityMessages
}{
	list:   entityMessages{failed: "Failed to fetch notes"},
	get:    entityMessages{failed: "Failed to fetch note"},
	create: entityMessages{invalidData: "Invalid note data", failed: "Failed to create note"},
	update: entityMessages{invalidData: "Invalid note data", failed: "Failed to update note"},
	remove: entityMessages{failed: "Failed to delete note"},
}

type noteCreatePayload struct {
	Title     *string `json:"title" binding:"required,min=1"`
	Content   *string `json:"content"`
	FolderIDs []int64 `json:"folderIds" binding:"omitempty,dive,gt=0"`
}

type noteUpdatePayload struct {
	Title     *string `json:"title" binding:"omitempty,min=1"`
	Content   *string `json:"content"`
	FolderIDs []int64 `json:"folderIds" binding:"omitempty,dive,gt=0"`
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	list, err := h.notesService.ListNotes(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, err, noteMessages.list)
		return
	}
	if list == nil {
		list = []notes.Note{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	var request noteCreatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalid(c, noteMessages.create.invalidData, bindingIssues(err))
		return
	}

	note, err := h.notesService.CreateNote(c.Request.Context(), notes.NoteInput{
		Title:     request.Title,
		Content:   request.Content,
		FolderIDs: request.FolderIDs,
	})
	if err != nil {
		h.respondServiceError(c, err, noteMessages.create)
		return
	}

	h.publishNoteChange(note.ID, request.FolderIDs != nil)
	c.JSON(http.StatusCreated, note)
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	noteID, ok := parseNoteID(c)
	if !ok {
		return
	}
	note, err := h.notesService.GetNote(c.Request.Context(), noteID)
	if err != nil {
		h.respondServiceError(c, err, noteMessages.get)
		return
	}
	c.JSON(http.StatusOK, note)
}

func (h *httpHandler) handleUpdateNote(c *gin.Context) {
	noteID, ok := parseNoteID(c)
	if !ok {
		return
	}
	var request noteUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalid(c, noteMessages.update.invalidData, bindingIssues(err))
		return
	}

	note, err := h.notesService.UpdateNote(c.Request.Context(), noteID, notes.NoteInput{
		Title:     request.Title,
		Content:   request.Content,
		FolderIDs: request.FolderIDs,
	})
	if err != nil {
		h.respondServiceError(c, err, noteMessages.update)
		return
	}

	h.publishNoteChange(note.ID, request.FolderIDs != nil)
	c.JSON(http.StatusOK, note)
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	noteID, ok := parseNoteID(c)
	if !ok {
		return
	}
	if err := h.notesService.DeleteNote(c.Request.Context(), noteID); err != nil {
		h.respondServiceError(c, err, noteMessages.remove)
		return
	}

	h.publishNoteChange(noteID, true)
	c.JSON(http.StatusOK, gin.H{"message": "Note deleted successfully"})
}

func parseNoteID(c *gin.Context) (int64, bool) {
	noteID, err := notes.ParseEntityID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid note ID"})
		return 0, false
	}
	return noteID, true
}

// publishNoteChange announces a note mutation; folders embed their notes, so association edits notify folder listeners too.
func (h *httpHandler) publishNoteChange(noteID int64, foldersAffected bool) {
	h.realtime.Publish(newRealtimeMessage(RealtimeEventNotesChanged, noteID))
	if foldersAffected {
		h.realtime.Publish(newRealtimeMessage(RealtimeEventFoldersChanged))
	}
}
