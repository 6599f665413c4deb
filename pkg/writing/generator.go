// Package writing 提供写作辅助的模板生成器
// 所有生成器都是同步纯函数，除写作提示外输出完全由参数决定
package writing

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Generator 模板生成器
// 持有数字格式化所用的 locale 和写作提示的随机源
type Generator struct {
	printer *message.Printer
	pick    func(n int) int
}

// NewGenerator 创建生成器，locale 无法解析时使用 en
func NewGenerator(locale string) *Generator {
	tag, err := language.Parse(locale)
	if err != nil || locale == "" {
		tag = language.English
	}
	return &Generator{
		printer: message.NewPrinter(tag),
		pick:    rand.IntN,
	}
}

// StoryIdeaParams 故事创意参数
type StoryIdeaParams struct {
	Genre   string `json:"genre,omitempty" jsonschema_description:"Genre of the story, e.g. fantasy, noir, science fiction"`
	Theme   string `json:"theme,omitempty" jsonschema_description:"Central theme, e.g. redemption, loss"`
	Setting string `json:"setting,omitempty" jsonschema_description:"Where and when the story takes place"`
}

// StoryIdea 生成故事创意
func (g *Generator) StoryIdea(p StoryIdeaParams) string {
	genre := orDefault(p.Genre, "literary")
	theme := orDefault(p.Theme, "an unexpected second chance")
	setting := orDefault(p.Setting, "a small town on the edge of change")

	var b strings.Builder
	fmt.Fprintf(&b, "Story Idea (%s)\n\n", genre)
	fmt.Fprintf(&b, "Premise: In %s, a story about %s unfolds.\n", setting, theme)
	fmt.Fprintf(&b, "Protagonist: Someone whose ordinary life in %s hides a question they have never dared to ask.\n", setting)
	fmt.Fprintf(&b, "Conflict: Pursuing %s forces the protagonist to break the rules their world depends on.\n", theme)
	fmt.Fprintf(&b, "Hook: Open with the moment the %s story can no longer stay quiet.\n", genre)
	return b.String()
}

// CharacterProfileParams 角色档案参数
type CharacterProfileParams struct {
	Name        string `json:"name" jsonschema:"required" jsonschema_description:"Character name"`
	Role        string `json:"role,omitempty" jsonschema_description:"Role in the story, e.g. protagonist, antagonist, mentor"`
	Age         string `json:"age,omitempty" jsonschema_description:"Age or age range"`
	Personality string `json:"personality,omitempty" jsonschema_description:"Key personality traits"`
	Background  string `json:"background,omitempty" jsonschema_description:"Short backstory"`
}

// CharacterProfile 生成角色档案
func (g *Generator) CharacterProfile(p CharacterProfileParams) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Character Profile: %s\n\n", p.Name)
	fmt.Fprintf(&b, "Role: %s\n", orDefault(p.Role, "to be decided"))
	fmt.Fprintf(&b, "Age: %s\n", orDefault(p.Age, "unspecified"))
	fmt.Fprintf(&b, "Personality: %s\n", orDefault(p.Personality, "define two strengths and one flaw"))
	fmt.Fprintf(&b, "Background: %s\n\n", orDefault(p.Background, "what happened before page one?"))
	b.WriteString("Questions to develop:\n")
	fmt.Fprintf(&b, "- What does %s want more than anything?\n", p.Name)
	fmt.Fprintf(&b, "- What is %s afraid others will find out?\n", p.Name)
	fmt.Fprintf(&b, "- How will %s have changed by the final chapter?\n", p.Name)
	return b.String()
}

// writingPrompts 写作提示候选集
var writingPrompts = [8]string{
	"Write about a character who finds a letter they wrote to themselves but don't remember writing.",
	"A stranger knocks on the door claiming to be from the future, but only five minutes ahead.",
	"Describe a city where everyone loses one memory every night.",
	"Two rivals are forced to share the last seat on the final train out of town.",
	"Write a scene in which the most important thing is never said out loud.",
	"A lighthouse keeper receives a signal from a ship that sank fifty years ago.",
	"Tell the story of an object passed through three generations of one family.",
	"Your protagonist wakes up with a skill they never learned and no idea why.",
}

// WritingPromptParams 写作提示参数
type WritingPromptParams struct {
	Genre string `json:"genre,omitempty" jsonschema_description:"Optional genre to focus the prompt on"`
}

// WritingPrompt 从候选集中随机选择一个写作提示
func (g *Generator) WritingPrompt(p WritingPromptParams) string {
	prompt := writingPrompts[g.pick(len(writingPrompts))]
	if p.Genre == "" {
		return prompt
	}
	return prompt + "\n\nGenre focus: " + p.Genre
}

// StoryOutlineParams 故事大纲参数
type StoryOutlineParams struct {
	Title string `json:"title" jsonschema:"required" jsonschema_description:"Working title of the story"`
	Genre string `json:"genre,omitempty" jsonschema_description:"Genre of the story"`
	Acts  int    `json:"acts,omitempty" jsonschema:"minimum=1,maximum=5,default=3" jsonschema_description:"Number of acts (1-5)"`
}

// actBeats 每种幕数对应的结构
var actBeats = map[int][]string{
	1: {"Setup, escalation and resolution in a single continuous movement"},
	2: {"Setup and rising complications", "Crisis, climax and resolution"},
	3: {"Setup: introduce the world, the protagonist and the inciting incident", "Confrontation: rising stakes, midpoint reversal and the darkest moment", "Resolution: climax and the new normal"},
	4: {"Setup and inciting incident", "Rising action toward the midpoint", "Complications and the darkest moment", "Climax and resolution"},
	5: {"Exposition", "Rising action", "Climax", "Falling action", "Denouement"},
}

// StoryOutline 生成分幕大纲
func (g *Generator) StoryOutline(p StoryOutlineParams) string {
	acts := p.Acts
	if acts < 1 || acts > 5 {
		acts = 3
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Story Outline: %s\n", p.Title)
	if p.Genre != "" {
		fmt.Fprintf(&b, "Genre: %s\n", p.Genre)
	}
	b.WriteString("\n")
	for i, beat := range actBeats[acts] {
		fmt.Fprintf(&b, "Act %d: %s\n", i+1, beat)
	}
	return b.String()
}

// WritingProgressParams 写作进度参数
type WritingProgressParams struct {
	ProjectName string `json:"project_name" jsonschema:"required" jsonschema_description:"Name of the writing project"`
	WordCount   int    `json:"word_count" jsonschema:"required,minimum=0" jsonschema_description:"Current word count"`
	TargetWords int    `json:"target_words,omitempty" jsonschema:"minimum=0" jsonschema_description:"Target word count"`
	Deadline    string `json:"deadline,omitempty" jsonschema_description:"Deadline, free text or a date"`
}

// WritingProgress 生成进度报告，数字按 locale 分组
func (g *Generator) WritingProgress(p WritingProgressParams) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Writing Progress: %s\n\n", p.ProjectName)
	b.WriteString(g.printer.Sprintf("Words written: %d\n", p.WordCount))
	if p.TargetWords > 0 {
		pct := float64(p.WordCount) / float64(p.TargetWords) * 100
		remaining := max(p.TargetWords-p.WordCount, 0)
		b.WriteString(g.printer.Sprintf("Target: %d\n", p.TargetWords))
		b.WriteString(g.printer.Sprintf("Progress: %.1f%%\n", pct))
		b.WriteString(g.printer.Sprintf("Remaining: %d\n", remaining))
	}
	if p.Deadline != "" {
		fmt.Fprintf(&b, "Deadline: %s\n", p.Deadline)
	}
	if p.TargetWords > 0 && p.WordCount >= p.TargetWords {
		b.WriteString("\nTarget reached. Time to revise!\n")
	} else {
		b.WriteString("\nKeep going, every session counts.\n")
	}
	return b.String()
}

// WorldSettingParams 世界观参数
type WorldSettingParams struct {
	WorldName  string `json:"world_name,omitempty" jsonschema_description:"Name of the world"`
	Era        string `json:"era,omitempty" jsonschema_description:"Historical era or time period"`
	Technology string `json:"technology,omitempty" jsonschema_description:"Level or kind of technology"`
	Culture    string `json:"culture,omitempty" jsonschema_description:"Dominant culture or society"`
}

// WorldSetting 生成世界观设定表
func (g *Generator) WorldSetting(p WorldSettingParams) string {
	var b strings.Builder
	fmt.Fprintf(&b, "World Setting: %s\n\n", orDefault(p.WorldName, "Unnamed World"))
	fmt.Fprintf(&b, "Era: %s\n", orDefault(p.Era, "choose a period that pressures your characters"))
	fmt.Fprintf(&b, "Technology: %s\n", orDefault(p.Technology, "decide what is possible and what is forbidden"))
	fmt.Fprintf(&b, "Culture: %s\n\n", orDefault(p.Culture, "define one belief everyone shares and one they argue about"))
	b.WriteString("Details to work out:\n")
	b.WriteString("- Geography and climate\n")
	b.WriteString("- Power structures and who is excluded from them\n")
	b.WriteString("- Daily life for an ordinary person\n")
	return b.String()
}

// PlotTwistParams 情节反转参数
type PlotTwistParams struct {
	Genre     string `json:"genre,omitempty" jsonschema_description:"Genre of the story"`
	Situation string `json:"situation,omitempty" jsonschema_description:"Current situation in the plot"`
}

// PlotTwist 生成三条情节反转建议
func (g *Generator) PlotTwist(p PlotTwistParams) string {
	var b strings.Builder
	b.WriteString("Plot Twist Suggestions")
	if p.Genre != "" {
		fmt.Fprintf(&b, " (%s)", p.Genre)
	}
	b.WriteString("\n\n")
	if p.Situation != "" {
		fmt.Fprintf(&b, "Current situation: %s\n\n", p.Situation)
	}
	b.WriteString("1. The ally who has helped the most has been steering events toward their own goal.\n")
	b.WriteString("2. The thing the protagonist is trying to prevent has already happened.\n")
	b.WriteString("3. The antagonist is right about one crucial fact, and the protagonist must admit it.\n")
	return b.String()
}

// DialogueExerciseParams 对话练习参数
type DialogueExerciseParams struct {
	CharacterA string `json:"character_a,omitempty" jsonschema_description:"First character"`
	CharacterB string `json:"character_b,omitempty" jsonschema_description:"Second character"`
	Conflict   string `json:"conflict,omitempty" jsonschema_description:"What the two characters disagree about"`
}

// DialogueExercise 生成对话练习模板
func (g *Generator) DialogueExercise(p DialogueExerciseParams) string {
	a := orDefault(p.CharacterA, "Character A")
	c := orDefault(p.CharacterB, "Character B")
	conflict := orDefault(p.Conflict, "something neither of them wants to name")

	var b strings.Builder
	b.WriteString("Dialogue Exercise\n\n")
	fmt.Fprintf(&b, "Characters: %s and %s\n", a, c)
	fmt.Fprintf(&b, "Conflict: %s\n\n", conflict)
	b.WriteString("Instructions:\n")
	fmt.Fprintf(&b, "- Write 10 to 15 lines in which %s wants something %s refuses to give.\n", a, c)
	b.WriteString("- Keep the conflict in the subtext: neither character states it directly.\n")
	b.WriteString("- End on a line that changes the balance of power.\n\n")
	fmt.Fprintf(&b, "%s: \"...\"\n%s: \"...\"\n", a, c)
	return b.String()
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
