package writing

import (
	"context"
	"fmt"
	"reflect"

	"github.com/KodaTao/WritingAgent/pkg/function"
)

// Tool 写作工具标识
type Tool int

const (
	StoryIdea Tool = iota
	CharacterProfile
	WritingPrompt
	StoryOutline
	WritingProgress
	WorldSetting
	PlotTwist
	DialogueExercise

	toolCount
)

// toolSpec 工具表项
type toolSpec struct {
	name        string
	description string
	params      reflect.Type
	run         func(g *Generator, params any) string
}

// tools 按 Tool 索引的工具表，每个标识都必须有对应项
// 名称是与模型之间的协议，不能修改
var tools = [toolCount]toolSpec{
	StoryIdea: {
		name:        "generate_story_idea",
		description: "Generate a story idea with premise, protagonist, conflict and hook. All parameters are optional.",
		params:      reflect.TypeOf(StoryIdeaParams{}),
		run:         func(g *Generator, p any) string { return g.StoryIdea(p.(StoryIdeaParams)) },
	},
	CharacterProfile: {
		name:        "create_character_profile",
		description: "Create a character profile sheet with role, age, personality, background and development questions.",
		params:      reflect.TypeOf(CharacterProfileParams{}),
		run:         func(g *Generator, p any) string { return g.CharacterProfile(p.(CharacterProfileParams)) },
	},
	WritingPrompt: {
		name:        "generate_writing_prompt",
		description: "Return a random creative writing prompt, optionally focused on a genre.",
		params:      reflect.TypeOf(WritingPromptParams{}),
		run:         func(g *Generator, p any) string { return g.WritingPrompt(p.(WritingPromptParams)) },
	},
	StoryOutline: {
		name:        "create_story_outline",
		description: "Create an act-by-act story outline (1 to 5 acts, 3 by default).",
		params:      reflect.TypeOf(StoryOutlineParams{}),
		run:         func(g *Generator, p any) string { return g.StoryOutline(p.(StoryOutlineParams)) },
	},
	WritingProgress: {
		name:        "track_writing_progress",
		description: "Produce a progress report for a writing project from its word count, target and deadline.",
		params:      reflect.TypeOf(WritingProgressParams{}),
		run:         func(g *Generator, p any) string { return g.WritingProgress(p.(WritingProgressParams)) },
	},
	WorldSetting: {
		name:        "build_world_setting",
		description: "Build a world-setting sheet covering era, technology and culture.",
		params:      reflect.TypeOf(WorldSettingParams{}),
		run:         func(g *Generator, p any) string { return g.WorldSetting(p.(WorldSettingParams)) },
	},
	PlotTwist: {
		name:        "suggest_plot_twist",
		description: "Suggest three plot twists for the current situation of a story.",
		params:      reflect.TypeOf(PlotTwistParams{}),
		run:         func(g *Generator, p any) string { return g.PlotTwist(p.(PlotTwistParams)) },
	},
	DialogueExercise: {
		name:        "create_dialogue_exercise",
		description: "Create a dialogue writing exercise between two characters in conflict.",
		params:      reflect.TypeOf(DialogueExerciseParams{}),
		run:         func(g *Generator, p any) string { return g.DialogueExercise(p.(DialogueExerciseParams)) },
	},
}

// Tools 返回全部工具标识
func Tools() []Tool {
	list := make([]Tool, 0, toolCount)
	for t := Tool(0); t < toolCount; t++ {
		list = append(list, t)
	}
	return list
}

// String 返回工具的协议名称
func (t Tool) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Tool(%d)", int(t))
	}
	return tools[t].name
}

// Valid 是否为已定义的工具
func (t Tool) Valid() bool {
	return t >= 0 && t < toolCount
}

// ParseTool 根据协议名称查找工具
func ParseTool(name string) (Tool, bool) {
	for t := Tool(0); t < toolCount; t++ {
		if tools[t].name == name {
			return t, true
		}
	}
	return 0, false
}

// Run 直接执行工具，params 必须是对应的参数结构体
func (g *Generator) Run(t Tool, params any) (string, error) {
	if !t.Valid() {
		return "", fmt.Errorf("unknown writing tool: %d", int(t))
	}
	def := tools[t]
	if reflect.TypeOf(params) != def.params {
		return "", fmt.Errorf("%s expects %s, got %T", def.name, def.params, params)
	}
	return def.run(g, params), nil
}

// toolFunction 将写作工具适配为 function.Function
type toolFunction struct {
	tool Tool
	gen  *Generator
}

func (f *toolFunction) Name() string             { return tools[f.tool].name }
func (f *toolFunction) Description() string      { return tools[f.tool].description }
func (f *toolFunction) ParamsType() reflect.Type { return tools[f.tool].params }

func (f *toolFunction) Execute(ctx context.Context, params any) (function.Result, error) {
	text, err := f.gen.Run(f.tool, params)
	if err != nil {
		return function.Result{}, err
	}
	return function.Result{Message: text}, nil
}

// Functions 返回全部写作工具的 Function 实现，按 Tool 顺序
func Functions(gen *Generator) []function.Function {
	fns := make([]function.Function, 0, toolCount)
	for _, t := range Tools() {
		fns = append(fns, &toolFunction{tool: t, gen: gen})
	}
	return fns
}
