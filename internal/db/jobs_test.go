package db

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestJobLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	job := &Job{ID: uuid.New(), Source: "square.gcode", State: "created"}
	if err := db.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.CreatedAt.IsZero() {
		t.Fatal("CreateJob did not stamp CreatedAt")
	}

	got, err := db.Job(ctx, job.ID)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if got.Source != "square.gcode" || got.State != "created" {
		t.Errorf("loaded job = %+v", got)
	}
	if got.Error != nil || got.FinishedAt != nil {
		t.Errorf("fresh job has error %v / finished %v", got.Error, got.FinishedAt)
	}

	if err := db.UpdateJobState(ctx, job.ID, "streaming"); err != nil {
		t.Fatalf("UpdateJobState: %v", err)
	}

	res := JobResult{
		State:    "done",
		Commands: 12,
		Segments: 9,
		Frames:   4000,
		Duration: 40 * time.Millisecond,
	}
	if err := db.FinishJob(ctx, job.ID, res); err != nil {
		t.Fatalf("FinishJob: %v", err)
	}

	got, err = db.Job(ctx, job.ID)
	if err != nil {
		t.Fatalf("Job after finish: %v", err)
	}
	if got.State != "done" || got.Commands != 12 || got.Segments != 9 || got.Frames != 4000 {
		t.Errorf("finished job = %+v", got)
	}
	if got.Duration != 40*time.Millisecond {
		t.Errorf("Duration = %v, want 40ms", got.Duration)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt not set")
	}
	if got.Error != nil {
		t.Errorf("Error = %q on a clean job", *got.Error)
	}
}

func TestFinishJobRecordsError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	job := &Job{ID: uuid.New(), Source: "bad.gcode", State: "created"}
	if err := db.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	res := JobResult{State: "aborted", Message: "laser timing: gate still on at job end"}
	if err := db.FinishJob(ctx, job.ID, res); err != nil {
		t.Fatalf("FinishJob: %v", err)
	}

	got, err := db.Job(ctx, job.ID)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if got.State != "aborted" {
		t.Errorf("State = %s, want aborted", got.State)
	}
	if got.Error == nil || !strings.Contains(*got.Error, "gate still on") {
		t.Errorf("Error = %v, want timing message", got.Error)
	}
}

func TestJobNotFound(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Job(ctx, uuid.New()); err == nil {
		t.Error("Job returned a row for an unknown id")
	}
	if err := db.UpdateJobState(ctx, uuid.New(), "streaming"); err == nil {
		t.Error("UpdateJobState succeeded for an unknown id")
	}
	if err := db.FinishJob(ctx, uuid.New(), JobResult{State: "done"}); err == nil {
		t.Error("FinishJob succeeded for an unknown id")
	}
}

func TestRecentJobsOrder(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		job := &Job{ID: uuid.New(), Source: "job.gcode", State: "created"}
		if err := db.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob(%d): %v", i, err)
		}
		ids = append(ids, job.ID)
		time.Sleep(2 * time.Millisecond) // distinct created_us stamps
	}

	jobs, err := db.RecentJobs(ctx, 2)
	if err != nil {
		t.Fatalf("RecentJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}
	if jobs[0].ID != ids[2] || jobs[1].ID != ids[1] {
		t.Errorf("order = [%s %s], want newest first [%s %s]",
			jobs[0].ID, jobs[1].ID, ids[2], ids[1])
	}
}
