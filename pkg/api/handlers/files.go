package handlers

import (
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/meowith/meowith/pkg/dataplane"
	"github.com/meowith/meowith/pkg/metadata/cassandra"
	"github.com/meowith/meowith/pkg/permission"
)

// FileHandler serves the node's public file endpoints: upload (oneshot
// and durable), download, delete, and rename.
type FileHandler struct {
	Service  *dataplane.Service
	Metadata *cassandra.Store
}

func NewFileHandler(svc *dataplane.Service, meta *cassandra.Store) *FileHandler {
	return &FileHandler{Service: svc, Metadata: meta}
}

// splitEntryPath splits a file path's slash-separated tail into its
// containing directory path and leaf name.
func splitEntryPath(p string) (dir, name string) {
	dir, name = path.Split(strings.TrimSuffix(p, "/"))
	return strings.TrimSuffix(dir, "/"), name
}

// resolveDirectory maps a directory path string onto the row id
// File/FileChunk rows reference, "" meaning the bucket's implicit root.
func (h *FileHandler) resolveDirectory(bucketID uuid.UUID, dirPath string) (uuid.UUID, error) {
	if dirPath == "" {
		return cassandra.RootDirectory, nil
	}
	parent, name := splitEntryPath(dirPath)
	dir, err := h.Metadata.GetDirectory(bucketID, parent, name)
	if err != nil {
		return uuid.Nil, err
	}
	return dir.ID, nil
}

func pathParams(w http.ResponseWriter, r *http.Request) (app, bucket uuid.UUID, rest string, ok bool) {
	app, ok = pathParamUUID(w, r, "app")
	if !ok {
		return
	}
	bucket, ok = pathParamUUID(w, r, "bucket")
	if !ok {
		return
	}
	rest = entryPath(r)
	return
}

// UploadOneshot handles POST /api/file/upload/oneshot/{app}/{bucket}/*.
func (h *FileHandler) UploadOneshot(w http.ResponseWriter, r *http.Request) {
	appID, bucketID, fullPath, ok := pathParams(w, r)
	if !ok {
		return
	}
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	dirPath, name := splitEntryPath(fullPath)
	directory, err := h.resolveDirectory(bucketID, dirPath)
	if err != nil {
		WriteError(w, err)
		return
	}

	size := r.ContentLength
	if size < 0 {
		BadRequest(w, "Content-Length is required")
		return
	}

	file, err := h.Service.UploadOneshot(r.Context(), appID, bucketID, directory, name, uint64(size), r.Body, claims.Allowance(bucketID))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSONOK(w, map[string]any{"id": file.ID, "size": file.Size})
}

type durableUploadRequest struct {
	Size uint64 `json:"size"`
}

type durableUploadResponse struct {
	Code     string `json:"code"`
	Validity int64  `json:"validity"`
	Uploaded uint64 `json:"uploaded"`
}

// UploadDurableStart handles POST /api/file/upload/durable/{app}/{bucket}/*.
func (h *FileHandler) UploadDurableStart(w http.ResponseWriter, r *http.Request) {
	appID, bucketID, fullPath, ok := pathParams(w, r)
	if !ok {
		return
	}
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	var req durableUploadRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	session, err := h.Service.StartDurable(r.Context(), appID, bucketID, fullPath, req.Size, claims.Allowance(bucketID))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSONOK(w, durableUploadResponse{Code: session.ID.String(), Validity: int64(session.TargetSize), Uploaded: 0})
}

// UploadPut handles PUT /api/file/upload/put/{app}/{bucket}/{session_id}.
func (h *FileHandler) UploadPut(w http.ResponseWriter, r *http.Request) {
	_, bucketID, ok := appBucketParams(w, r)
	if !ok {
		return
	}
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	sessionID, ok := pathParamUUID(w, r, "session_id")
	if !ok {
		return
	}

	file, err := h.Service.PutDurable(r.Context(), sessionID, r.Body, claims.Allowance(bucketID))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSONOK(w, map[string]any{"id": file.ID, "size": file.Size})
}

type resumeRequest struct {
	SessionID uuid.UUID `json:"session_id"`
}

// UploadResume handles POST /api/file/upload/resume/{app}/{bucket}.
func (h *FileHandler) UploadResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	uploaded, err := h.Service.ResumeDurable(r.Context(), req.SessionID)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSONOK(w, map[string]uint64{"uploaded_size": uploaded})
}

// Download handles GET /api/file/download/{app}/{bucket}/*.
func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	_, bucketID, fullPath, ok := pathParams(w, r)
	if !ok {
		return
	}
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	dirPath, name := splitEntryPath(fullPath)
	directory, err := h.resolveDirectory(bucketID, dirPath)
	if err != nil {
		WriteError(w, err)
		return
	}

	file, err := h.Metadata.GetFile(bucketID, directory, name)
	if err != nil {
		WriteError(w, err)
		return
	}

	rangeStart, rangeEnd, partial := parseRangeHeader(r.Header.Get("Range"), uint64(file.Size))

	w.Header().Set("Content-Disposition", "attachment; filename=\""+name+"\"")
	w.Header().Set("Content-Type", mimeFromExtension(name))
	if partial {
		w.Header().Set("Content-Range", "bytes "+strconv.FormatUint(rangeStart, 10)+"-"+strconv.FormatUint(rangeEnd-1, 10)+"/"+strconv.FormatInt(file.Size, 10))
		w.WriteHeader(http.StatusPartialContent)
	}

	if err := h.Service.Download(r.Context(), bucketID, directory, name, w, rangeStart, rangeEnd, claims.Allowance(bucketID)); err != nil {
		// Headers (and possibly a partial body) are already written; the
		// best this can do is log the failure upstream of here.
		return
	}
}

// Delete handles DELETE /api/file/delete/{app}/{bucket}/*.
func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	appID, bucketID, fullPath, ok := pathParams(w, r)
	if !ok {
		return
	}
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	dirPath, name := splitEntryPath(fullPath)
	directory, err := h.resolveDirectory(bucketID, dirPath)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := h.Service.DeleteFile(r.Context(), appID, bucketID, directory, name, claims.Allowance(bucketID)); err != nil {
		WriteError(w, err)
		return
	}
	WriteNoContent(w)
}

type renameRequest struct {
	To string `json:"to"`
}

// Rename handles POST /api/file/rename/{app}/{bucket}/*.
func (h *FileHandler) Rename(w http.ResponseWriter, r *http.Request) {
	_, bucketID, fullPath, ok := pathParams(w, r)
	if !ok {
		return
	}
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	if !claims.Allowance(bucketID).Has(permission.PermRenameFile) {
		Unauthorized(w, "missing rename permission")
		return
	}

	var req renameRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	dirPath, name := splitEntryPath(fullPath)
	directory, err := h.resolveDirectory(bucketID, dirPath)
	if err != nil {
		WriteError(w, err)
		return
	}
	file, err := h.Metadata.GetFile(bucketID, directory, name)
	if err != nil {
		WriteError(w, err)
		return
	}

	newDirPath, newName := splitEntryPath(req.To)
	newDirectory, err := h.resolveDirectory(bucketID, newDirPath)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := h.Metadata.RenameFile(file, newDirectory, newName); err != nil {
		WriteError(w, err)
		return
	}
	WriteNoContent(w)
}

func appBucketParams(w http.ResponseWriter, r *http.Request) (app, bucket uuid.UUID, ok bool) {
	app, ok = pathParamUUID(w, r, "app")
	if !ok {
		return
	}
	bucket, ok = pathParamUUID(w, r, "bucket")
	return
}
