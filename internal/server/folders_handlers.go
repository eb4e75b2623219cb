package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/dominotes/internal/notes"
	"github.com/gin-gonic/gin"
)

var folderMessages = struct {
	list, get, create, update, remove entityMessages
}{
	list:   entityMessages{failed: "Failed to fetch folders"},
	get:    entityMessages{failed: "Failed to fetch folder"},
	create: entityMessages{invalidData: "Invalid folder data", failed: "Failed to create folder"},
	update: entityMessages{invalidData: "Invalid folder data", failed: "Failed to update folder"},
	remove: entityMessages{failed: "Failed to delete folder"},
}

type folderCreatePayload struct {
	Name    *string `json:"name" binding:"required,min=1,max=190"`
	NoteIDs []int64 `json:"noteIds" binding:"omitempty,dive,gt=0"`
}

type folderUpdatePayload struct {
	Name    *string `json:"name" binding:"omitempty,min=1,max=190"`
	NoteIDs []int64 `json:"noteIds" binding:"omitempty,dive,gt=0"`
}

func (h *httpHandler) handleListFolders(c *gin.Context) {
	list, err := h.notesService.ListFolders(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, err, folderMessages.list)
		return
	}
	if list == nil {
		list = []notes.Folder{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *httpHandler) handleCreateFolder(c *gin.Context) {
	var request folderCreatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalid(c, folderMessages.create.invalidData, bindingIssues(err))
		return
	}

	folder, err := h.notesService.CreateFolder(c.Request.Context(), notes.FolderInput{
		Name:    request.Name,
		NoteIDs: request.NoteIDs,
	})
	if err != nil {
		h.respondServiceError(c, err, folderMessages.create)
		return
	}

	h.publishFolderChange(folder.ID, request.NoteIDs != nil)
	c.JSON(http.StatusCreated, folder)
}

func (h *httpHandler) handleGetFolder(c *gin.Context) {
	folderID, ok := parseFolderID(c)
	if !ok {
		return
	}
	folder, err := h.notesService.GetFolder(c.Request.Context(), folderID)
	if err != nil {
		h.respondServiceError(c, err, folderMessages.get)
		return
	}
	c.JSON(http.StatusOK, folder)
}

func (h *httpHandler) handleUpdateFolder(c *gin.Context) {
	folderID, ok := parseFolderID(c)
	if !ok {
		return
	}
	var request folderUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalid(c, folderMessages.update.invalidData, bindingIssues(err))
		return
	}

	folder, err := h.notesService.UpdateFolder(c.Request.Context(), folderID, notes.FolderInput{
		Name:    request.Name,
		NoteIDs: request.NoteIDs,
	})
	if err != nil {
		h.respondServiceError(c, err, folderMessages.update)
		return
	}

	h.publishFolderChange(folder.ID, request.NoteIDs != nil)
	c.JSON(http.StatusOK, folder)
}

func (h *httpHandler) handleDeleteFolder(c *gin.Context) {
	folderID, ok := parseFolderID(c)
	if !ok {
		return
	}
	if err := h.notesService.DeleteFolder(c.Request.Context(), folderID); err != nil {
		h.respondServiceError(c, err, folderMessages.remove)
		return
	}

	h.publishFolderChange(folderID, true)
	c.JSON(http.StatusOK, gin.H{"message": "Folder deleted successfully"})
}

func parseFolderID(c *gin.Context) (int64, bool) {
	folderID, err := notes.ParseEntityID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid folder ID"})
		return 0, false
	}
	return folderID, true
}

func (h *httpHandler) publishFolderChange(folderID int64, notesAffected bool) {
	h.realtime.Publish(newRealtimeMessage(RealtimeEventFoldersChanged, folderID))
	if notesAffected {
		h.realtime.Publish(newRealtimeMessage(RealtimeEventNotesChanged))
	}
}
