package annotation

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-git/go-billy/v6"

	"github.com/lewtec/rotulador-bbox/internal/codec"
	"github.com/lewtec/rotulador-bbox/internal/domain"
	"github.com/lewtec/rotulador-bbox/internal/geometry"
)

func HTTPLogger(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		initialTime := time.Now()
		method := r.Method
		path := r.URL.String()
		wr := NewStatusCodeRecorderResponseWriter(w)
		handler.ServeHTTP(wr, r)
		statusCode := wr.Status
		log.Printf("http: time:%dms %d %s %s", time.Since(initialTime)/time.Millisecond, statusCode, method, path)
	})
}

type StatusCodeRecorderResponseWriter struct {
	http.ResponseWriter
	Status int
}

func (r *StatusCodeRecorderResponseWriter) WriteHeader(status int) {
	r.Status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the hijacker of the websocket upgrade
func (r *StatusCodeRecorderResponseWriter) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func NewStatusCodeRecorderResponseWriter(w http.ResponseWriter) *StatusCodeRecorderResponseWriter {
	return &StatusCodeRecorderResponseWriter{ResponseWriter: w, Status: 200}
}

// ImageSummary is the list item of GET /api/images
type ImageSummary struct {
	ImageID      string              `json:"image_id"`
	Filename     string              `json:"filename"`
	ReviewStatus domain.ReviewStatus `json:"review_status"`
	ActiveBoxes  int                 `json:"active_boxes"`
	Dirty        bool                `json:"dirty"`
	Editing      bool                `json:"editing"`
}

// ImageDetail is the body of GET /api/images/{id}
type ImageDetail struct {
	codec.ImageEntry
	Dirty    bool    `json:"dirty"`
	Editing  bool    `json:"editing"`
	Current  bool    `json:"current"`
	Handle   *Handle `json:"handle,omitempty"`
	Selected []int   `json:"selected"`
}

// ActionRequest carries the optional parameters of POST /api/actions/{action}.
// Rect is [x0, y0, x1, y1] and Point is [x, y], both normalized.
type ActionRequest struct {
	Rect     *[4]float64 `json:"rect,omitempty"`
	Point    *[2]float64 `json:"point,omitempty"`
	Delta    float64     `json:"delta,omitempty"`
	Reviewer string      `json:"reviewer,omitempty"`
	Advance  bool        `json:"advance,omitempty"`
	File     string      `json:"file,omitempty"`
	Mode     string      `json:"mode,omitempty"`
	Filter   string      `json:"filter,omitempty"`
	Format   string      `json:"format,omitempty"`
}

// SelectRequest is the body of POST /api/select: either a point or a drag rectangle
type SelectRequest struct {
	Rect  *[4]float64 `json:"rect,omitempty"`
	Point *[2]float64 `json:"point,omitempty"`
}

type apiError struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

var errorKinds = []struct {
	err    error
	kind   string
	status int
}{
	{domain.ErrNotFound, "not_found", http.StatusNotFound},
	{domain.ErrStaleHandle, "stale_handle", http.StatusConflict},
	{domain.ErrInvalidState, "invalid_state", http.StatusConflict},
	{domain.ErrImportConflict, "import_conflict", http.StatusConflict},
	{domain.ErrSchemaMismatch, "schema_mismatch", http.StatusUnprocessableEntity},
	{domain.ErrPersistenceIO, "persistence_io", http.StatusInternalServerError},
	{geometry.ErrDegenerate, "degenerate_rect", http.StatusBadRequest},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("http: while writing response: %s", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			writeJSON(w, k.status, apiError{Error: err.Error(), Kind: k.kind})
			return
		}
	}
	writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("invalid request body: " + err.Error())
	}
	return nil
}

type apiHandler struct {
	session *Session
	files   billy.Filesystem
}

// NewAPIHandler exposes the session action surface as JSON endpoints. files
// is the root for the file names of import and export actions.
func NewAPIHandler(session *Session, files billy.Filesystem) http.Handler {
	h := &apiHandler{session: session, files: files}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/images", h.listImages)
	mux.HandleFunc("GET /api/images/{id}", h.getImage)
	mux.HandleFunc("POST /api/show/{id}", h.show)
	mux.HandleFunc("GET /api/actions", h.enabledActions)
	mux.HandleFunc("POST /api/actions/{action}", h.runAction)
	mux.HandleFunc("POST /api/select", h.selectBoxes)
	mux.HandleFunc("POST /api/save", h.save)
	return mux
}

func (h *apiHandler) listImages(w http.ResponseWriter, r *http.Request) {
	snap := h.session.Store.Snapshot()
	ret := make([]ImageSummary, 0, len(snap.Records))
	for _, rec := range snap.Records {
		ret = append(ret, ImageSummary{
			ImageID:      rec.ImageID,
			Filename:     rec.Filename,
			ReviewStatus: rec.ReviewStatus,
			ActiveBoxes:  len(rec.ActiveBoxes()),
			Dirty:        rec.Dirty,
			Editing:      rec.Editing,
		})
	}
	writeJSON(w, http.StatusOK, ret)
}

func (h *apiHandler) detail(imageID string) (*ImageDetail, error) {
	rec, err := h.session.Store.Get(imageID)
	if err != nil {
		return nil, err
	}
	doc := codec.ExportJSON([]*domain.ImageRecord{rec}, time.Time{})
	ret := &ImageDetail{
		ImageEntry: doc.Images[0],
		Dirty:      rec.Dirty,
		Editing:    rec.Editing,
		Selected:   []int{},
	}
	if handle, ok := h.session.Scene.HandleFor(imageID); ok {
		ret.Handle = &handle
	}
	if current, selected := h.session.Scene.Selection(); current == imageID {
		ret.Current = true
		if selected != nil {
			ret.Selected = selected
		}
	}
	return ret, nil
}

func (h *apiHandler) getImage(w http.ResponseWriter, r *http.Request) {
	ret, err := h.detail(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ret)
}

func (h *apiHandler) show(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.session.Show(id); err != nil {
		writeError(w, err)
		return
	}
	h.getImage(w, r)
}

func (h *apiHandler) enabledActions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.EnabledActions())
}

func (h *apiHandler) selectBoxes(w http.ResponseWriter, r *http.Request) {
	var req SelectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var (
		selected []int
		err      error
	)
	switch {
	case req.Point != nil:
		selected, err = h.session.SelectAt(req.Point[0], req.Point[1])
	case req.Rect != nil:
		selected, err = h.session.SelectRect(req.Rect[0], req.Rect[1], req.Rect[2], req.Rect[3])
	default:
		err = errors.New("select needs a point or a rect")
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if selected == nil {
		selected = []int{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"selected": selected})
}

func (h *apiHandler) save(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Save(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *apiHandler) runAction(w http.ResponseWriter, r *http.Request) {
	action, err := domain.ParseAction(r.PathValue("action"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, apiError{Error: err.Error(), Kind: "not_found"})
		return
	}
	var req ActionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := h.dispatch(action, req)
	if err != nil {
		writeError(w, err)
		return
	}
	if result == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *apiHandler) dispatch(action domain.Action, req ActionRequest) (any, error) {
	s := h.session
	switch action {
	case domain.ActionEnterEdit:
		return nil, s.EnterEditMode()
	case domain.ActionLeaveEdit:
		return nil, s.LeaveEditMode()
	case domain.ActionMarkCorrect:
		return nil, s.MarkCorrect()
	case domain.ActionDiscardEdits:
		return nil, s.DiscardEdits()
	case domain.ActionAccept:
		if req.Advance {
			rec, next, err := s.AcceptAndAdvance(req.Reviewer)
			if err != nil {
				return nil, err
			}
			return map[string]any{"image_id": rec.ImageID, "review_status": rec.ReviewStatus, "reviewer_id": rec.ReviewerID, "shown": next.ImageID}, nil
		}
		rec, err := s.Accept(req.Reviewer)
		if err != nil {
			return nil, err
		}
		return map[string]any{"image_id": rec.ImageID, "review_status": rec.ReviewStatus, "reviewer_id": rec.ReviewerID}, nil
	case domain.ActionAddBox:
		if req.Rect == nil {
			return nil, errors.New("add-box needs a rect")
		}
		box, err := s.AddBox(req.Rect[0], req.Rect[1], req.Rect[2], req.Rect[3])
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": box.ID, "rect": [4]float64{box.Rect.X0, box.Rect.Y0, box.Rect.X1, box.Rect.Y1}}, nil
	case domain.ActionDeleteSelected:
		n, err := s.DeleteSelected()
		if err != nil {
			return nil, err
		}
		return map[string]any{"deleted": n}, nil
	case domain.ActionStretchSelected:
		if req.Point == nil {
			return nil, errors.New("stretch-selected-edge needs a point")
		}
		delta := req.Delta
		if delta == 0 {
			delta = 1
		}
		return nil, s.StretchSelected(req.Point[0], req.Point[1], delta)
	}
	if h.files == nil {
		return nil, errors.New("file actions are disabled")
	}
	if req.File == "" {
		return nil, errors.New(string(action) + " needs a file")
	}
	switch action {
	case domain.ActionImportJSON:
		mode, err := codec.ParseMode(req.Mode)
		if err != nil {
			return nil, err
		}
		return s.ImportJSON(h.files, req.File, mode)
	case domain.ActionExportJSON:
		return nil, s.ExportJSON(h.files, req.File)
	case domain.ActionExportTraining:
		filter := s.Config.ExportFilter()
		if req.Filter != "" {
			var err error
			if filter, err = codec.ParseFilter(req.Filter); err != nil {
				return nil, err
			}
		}
		n, err := s.WriteTraining(h.files, req.File, filter, req.Format)
		if err != nil {
			return nil, err
		}
		return map[string]any{"records": n}, nil
	}
	return nil, errors.New("unsupported action " + string(action))
}
