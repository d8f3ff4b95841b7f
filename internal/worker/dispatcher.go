package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"

	"github.com/courseloom/video-ingest/internal/config"
	"github.com/courseloom/video-ingest/internal/logger"
)

// ECSAPI is the slice of the ECS client the dispatcher uses.
type ECSAPI interface {
	RunTask(ctx context.Context, params *ecs.RunTaskInput, optFns ...func(*ecs.Options)) (*ecs.RunTaskOutput, error)
	ListTasks(ctx context.Context, params *ecs.ListTasksInput, optFns ...func(*ecs.Options)) (*ecs.ListTasksOutput, error)
}

// ECSDispatcher launches one Fargate task per locked video. Beyond confirming
// the launch call itself, it is fire-and-forget: the task reports completion
// through the content callback, never back through the worker.
type ECSDispatcher struct {
	client         ECSAPI
	cluster        string
	taskDefinition string
	taskFamily     string
	containerName  string
	subnets        []string
	securityGroups []string
	log            *slog.Logger
}

// NewECSDispatcher creates a dispatcher from the worker configuration.
func NewECSDispatcher(client ECSAPI, cfg *config.ECSConfig, log *slog.Logger) *ECSDispatcher {
	return &ECSDispatcher{
		client:         client,
		cluster:        cfg.Cluster,
		taskDefinition: cfg.TaskDefinition,
		taskFamily:     familyFromTaskDefinition(cfg.TaskDefinition),
		containerName:  cfg.ContainerName,
		subnets:        cfg.Subnets,
		securityGroups: cfg.SecurityGroups,
		log:            log,
	}
}

// Dispatch launches the transcode task for one video, passing the object key
// and video id as container environment. A failed launch propagates to the
// caller; the queue message stays unacked so redelivery retries it.
func (d *ECSDispatcher) Dispatch(ctx context.Context, objectKey, videoID string) error {
	out, err := d.client.RunTask(ctx, &ecs.RunTaskInput{
		Cluster:        aws.String(d.cluster),
		TaskDefinition: aws.String(d.taskDefinition),
		Count:          aws.Int32(1),
		LaunchType:     ecstypes.LaunchTypeFargate,
		NetworkConfiguration: &ecstypes.NetworkConfiguration{
			AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
				Subnets:        d.subnets,
				SecurityGroups: d.securityGroups,
				AssignPublicIp: ecstypes.AssignPublicIpDisabled,
			},
		},
		Overrides: &ecstypes.TaskOverride{
			ContainerOverrides: []ecstypes.ContainerOverride{
				{
					Name: aws.String(d.containerName),
					Environment: []ecstypes.KeyValuePair{
						{Name: aws.String("VIDEO_ID"), Value: aws.String(videoID)},
						{Name: aws.String("OBJECT_KEY"), Value: aws.String(objectKey)},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to run task: %w", err)
	}

	if len(out.Failures) > 0 {
		f := out.Failures[0]
		return fmt.Errorf("task launch rejected: %s (%s)",
			aws.ToString(f.Reason), aws.ToString(f.Detail))
	}
	if len(out.Tasks) == 0 {
		return fmt.Errorf("task launch returned no tasks")
	}

	logger.Info(ctx, d.log, "Launched transcode task",
		"videoId", videoID,
		"taskArn", aws.ToString(out.Tasks[0].TaskArn),
	)

	return nil
}

// Busy reports whether any transcode task from this family is still running.
func (d *ECSDispatcher) Busy(ctx context.Context) (bool, error) {
	out, err := d.client.ListTasks(ctx, &ecs.ListTasksInput{
		Cluster:       aws.String(d.cluster),
		Family:        aws.String(d.taskFamily),
		DesiredStatus: ecstypes.DesiredStatusRunning,
	})
	if err != nil {
		return false, fmt.Errorf("failed to list tasks: %w", err)
	}

	return len(out.TaskArns) > 0, nil
}

// familyFromTaskDefinition strips the revision and any ARN prefix from a task
// definition reference, leaving the bare family name.
func familyFromTaskDefinition(taskDef string) string {
	family := taskDef
	if idx := strings.LastIndex(family, "/"); idx != -1 {
		family = family[idx+1:]
	}
	if idx := strings.Index(family, ":"); idx != -1 {
		family = family[:idx]
	}
	return family
}
