package server

import (
	"io"
	"net/http"

	"github.com/artouc/ego-graphica/internal/cache"
	"github.com/artouc/ego-graphica/internal/knowledge"
	"github.com/artouc/ego-graphica/internal/persona"
	"github.com/artouc/ego-graphica/internal/store"
	"github.com/gin-gonic/gin"
)

func (s *Server) handleGetPersona(c *gin.Context) {
	p, err := s.Store.GetPersona(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		writeError(c, err)
		return
	}
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "persona not configured"})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handlePutPersona(c *gin.Context) {
	var p persona.Persona
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid persona: " + err.Error()})
		return
	}
	if err := s.Knowledge.PutPersona(c.Request.Context(), c.Param("tenant"), &p); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleCreateWork(c *gin.Context) {
	var w store.Work
	if err := c.ShouldBindJSON(&w); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid work: " + err.Error()})
		return
	}
	w.ID = ""
	if err := s.Knowledge.CreateWork(c.Request.Context(), c.Param("tenant"), &w); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

func (s *Server) handleUpdateWork(c *gin.Context) {
	var w store.Work
	if err := c.ShouldBindJSON(&w); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid work: " + err.Error()})
		return
	}
	w.ID = c.Param("id")
	if err := s.Knowledge.UpdateWork(c.Request.Context(), c.Param("tenant"), &w); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

// handleIngestFile accepts a multipart upload in the "file" field.
func (s *Server) handleIngestFile(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if fh.Size > MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeError(c, err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, MaxUploadBytes))
	if err != nil {
		writeError(c, err)
		return
	}

	in := knowledge.FileInput{
		Filename:    fh.Filename,
		Title:       c.PostForm("title"),
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}
	file, err := s.Knowledge.IngestFile(c.Request.Context(), c.Param("tenant"), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, file)
}

type urlRequest struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

func (s *Server) handleIngestURL(c *gin.Context) {
	var req urlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	u, err := s.Knowledge.IngestURL(c.Request.Context(), c.Param("tenant"), knowledge.URLInput{
		URL:   req.URL,
		Title: req.Title,
		Text:  req.Text,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

type invalidateRequest struct {
	Signal string `json:"signal"`
}

func (s *Server) handleInvalidate(c *gin.Context) {
	var req invalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	signal, ok := cache.ParseSignal(req.Signal)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown signal: " + req.Signal})
		return
	}
	s.Contexts.Invalidate(c.Request.Context(), c.Param("tenant"), signal)
	c.JSON(http.StatusOK, gin.H{"tenant": c.Param("tenant"), "signal": signal.String()})
}

func (s *Server) handleInvalidateVectors(c *gin.Context) {
	n := s.Vectors.Invalidate(c.Request.Context(), c.Param("tenant"))
	c.JSON(http.StatusOK, gin.H{"tenant": c.Param("tenant"), "deleted": n})
}

func (s *Server) handleClearEmbeddings(c *gin.Context) {
	n := s.Embeddings.Clear(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}
