package powervs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RnD-sandbox/image-sharing/pkg/cloudapi"
)

func TestListWorkspaces(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/workspaces", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"workspaces":[{"id":"ws-1","name":"dal","location":{"url":"https://dal.example/"},"details":{"crn":"crn:1"}}]}`))
	}))
	t.Cleanup(srv.Close)

	got, err := New(cloudapi.New(), srv.URL).ListWorkspaces(context.Background(), "tok")
	require.NoError(t, err)
	require.Equal(t, []Workspace{{ID: "ws-1", Name: "dal", CRN: "crn:1", BaseURL: "https://dal.example"}}, got)
}

func TestListImagesSendsWorkspaceHeaders(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pcloud/v1/cloud-instances/ws-1/images", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "crn:1", r.Header.Get("CRN"))
		_, _ = w.Write([]byte(`{"images":[{"imageID":"img-1","name":"rhel","state":"active"},{"imageID":"img-2","name":"sles","state":"queued"}]}`))
	}))
	t.Cleanup(srv.Close)

	ws := Workspace{ID: "ws-1", Name: "dal", CRN: "crn:1", BaseURL: srv.URL}
	images, err := New(cloudapi.New(), "").ListImages(context.Background(), "Bearer tok", ws)
	require.NoError(t, err)
	require.Len(t, images, 2)

	img, ok := FindImage(images, "rhel")
	require.True(t, ok)
	require.True(t, img.Active())
	require.Equal(t, "img-1", img.ID)

	img, ok = FindImage(images, "sles")
	require.True(t, ok)
	require.False(t, img.Active())

	_, ok = FindImage(images, "aix")
	require.False(t, ok)
}

func TestImportImageBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/pcloud/v1/cloud-instances/ws-1/cos-images", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "crn:1", r.Header.Get("CRN"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "rhel", body["imageName"])
		assert.Equal(t, "us-south", body["region"])
		assert.Equal(t, "rhel.ova.gz", body["imageFilename"])
		assert.Equal(t, "images", body["bucketName"])
		assert.Equal(t, DefaultStorageType, body["storageType"])
		assert.Equal(t, map[string]any{"licenseType": "byol", "product": "RHEL", "vendor": "SAP"}, body["importDetails"])

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"id":"job-1","href":"/jobs/job-1"}`))
	}))
	t.Cleanup(srv.Close)

	ws := Workspace{ID: "ws-1", CRN: "crn:1", BaseURL: srv.URL}
	job, err := New(cloudapi.New(), "").ImportImage(context.Background(), "tok", ws, ImportRequest{
		ImageName:     "rhel",
		Region:        "us-south",
		ImageFilename: "rhel.ova.gz",
		BucketName:    "images",
		ImportDetails: &ImportDetails{LicenseType: "byol", Product: "RHEL", Vendor: "SAP"},
	})
	require.NoError(t, err)
	require.Equal(t, "job-1", job.ID)
	require.True(t, job.InFlight())
}

func TestDeleteImage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/pcloud/v1/cloud-instances/ws-1/images/img-1", r.URL.Path)
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	ws := Workspace{ID: "ws-1", BaseURL: srv.URL}
	client := New(cloudapi.New(), "")
	require.NoError(t, client.DeleteImage(context.Background(), "tok", ws, "img-1"))
	require.Error(t, client.DeleteImage(context.Background(), "tok", ws, ""))
}

func TestLastImportJob(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/pcloud/v1/cloud-instances/ws-none/cos-images" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"id":"job-1","status":{"state":"running","message":"copying"}}`))
	}))
	t.Cleanup(srv.Close)

	client := New(cloudapi.New(), "")
	job, err := client.LastImportJob(context.Background(), "tok", Workspace{ID: "ws-1", BaseURL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, ImportJob{ID: "job-1", State: JobStateRunning, Message: "copying"}, job)
	require.True(t, job.InFlight())
	require.False(t, job.Completed())

	_, err = client.LastImportJob(context.Background(), "tok", Workspace{ID: "ws-none", BaseURL: srv.URL})
	require.Error(t, err)
	require.True(t, cloudapi.IsNotFound(err))
}

func TestImportJobStates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state     string
		inFlight  bool
		completed bool
	}{
		{JobStateQueued, true, false},
		{JobStateReadyForProcessing, true, false},
		{JobStateInProgress, true, false},
		{JobStateRunning, true, false},
		{JobStateCompleted, false, true},
		{JobStateFailed, false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		job := ImportJob{State: tt.state}
		require.Equal(t, tt.inFlight, job.InFlight(), tt.state)
		require.Equal(t, tt.completed, job.Completed(), tt.state)
	}
}

func TestWorkspaceRequestRequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "").ListImages(context.Background(), "tok", Workspace{ID: "ws-1", Name: "broken"})
	require.ErrorContains(t, err, "broken")
}
