package main

import (
	"fmt"
)

// WorkflowCmd groups workflow-inspection subcommands.
type WorkflowCmd struct {
	List   WorkflowListCmd   `cmd:"" help:"List resumable workflows."`
	Status WorkflowStatusCmd `cmd:"" help:"Show a workflow's current state."`
	Resume WorkflowResumeCmd `cmd:"" help:"Resume a PAUSED or CHECKPOINTED workflow."`
}

// WorkflowListCmd lists every workflow not in a terminal state.
type WorkflowListCmd struct {
	Repo string `help:"Repository working tree, needed to build the full stack." default:"." type:"path"`
}

func (c *WorkflowListCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	core, err := buildCore(cfg, c.Repo)
	if err != nil {
		return err
	}
	defer core.Close()

	ids, err := core.workflows.ListResumable()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("no resumable workflows")
		return nil
	}
	for _, id := range ids {
		wf, err := core.workflows.Get(id)
		if err != nil {
			fmt.Printf("%s: %v\n", id, err)
			continue
		}
		fmt.Printf("%s  state=%-12s plan=%s\n", wf.ID, wf.State, wf.PlanID)
	}
	return nil
}

// WorkflowStatusCmd shows one workflow's full state.
type WorkflowStatusCmd struct {
	Repo string `help:"Repository working tree." default:"." type:"path"`
	ID   string `arg:"" help:"Workflow ID."`
}

func (c *WorkflowStatusCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	core, err := buildCore(cfg, c.Repo)
	if err != nil {
		return err
	}
	defer core.Close()

	wf, err := core.workflows.Get(c.ID)
	if err != nil {
		return err
	}
	fmt.Printf("id:              %s\n", wf.ID)
	fmt.Printf("plan:            %s\n", wf.PlanID)
	fmt.Printf("correlation_id:  %s\n", wf.CorrelationID)
	fmt.Printf("state:           %s\n", wf.State)
	fmt.Printf("failure_reason:  %s\n", wf.FailureReason)
	fmt.Printf("completed_steps: %v\n", wf.CompletedSteps)
	fmt.Printf("pending_steps:   %v\n", wf.PendingSteps)
	fmt.Printf("checkpoints:     %d\n", len(wf.Checkpoints))
	return nil
}

// WorkflowResumeCmd resumes a PAUSED or CHECKPOINTED workflow from its
// latest checkpoint.
type WorkflowResumeCmd struct {
	Repo string `help:"Repository working tree." default:"." type:"path"`
	ID   string `arg:"" help:"Workflow ID."`
}

func (c *WorkflowResumeCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	core, err := buildCore(cfg, c.Repo)
	if err != nil {
		return err
	}
	defer core.Close()

	result, err := core.workflows.Resume(c.ID)
	if err != nil {
		return err
	}
	fmt.Printf("resumed %s: state=%s reason=%s\n", c.ID, result.State, result.Reason)
	return nil
}
