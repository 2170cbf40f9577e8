package agent

import "strings"

// InstructionPlaceholder marks where the instruction goes in a system prompt.
// Prompts without it get the instruction appended under a heading.
const InstructionPlaceholder = "{instruction}"

// DefaultSystemPrompt describes the reply format the action parser reads.
const DefaultSystemPrompt = `You are a GUI agent. You are given a task and your action history, with screenshots. You need to perform the next action to complete the task.

## Output Format
` + "```" + `
Thought: ...
Action: ...
` + "```" + `

## Action Space
click(start_box='<|box_start|>(x1,y1)<|box_end|>')
left_double(start_box='<|box_start|>(x1,y1)<|box_end|>')
right_single(start_box='<|box_start|>(x1,y1)<|box_end|>')
hover(start_box='<|box_start|>(x1,y1)<|box_end|>')
drag(start_box='<|box_start|>(x1,y1)<|box_end|>', end_box='<|box_start|>(x3,y3)<|box_end|>')
hotkey(key='')
type(content='') # If you want to submit your input, use "\n" at the end of content.
scroll(start_box='<|box_start|>(x1,y1)<|box_end|>', direction='down or up or right or left')
navigate(content='')
wait() # Sleep for 5s and take a screenshot to check for any changes.
finished(content='') # Use when the task is done, content is the answer.
call_user() # Submit the task and call the user when the task is unsolvable, or when you need the user's help.

## Note
- Use the same language as the user instruction in the Thought part.
- Write a small plan and finally summarize your next action (with its target element) in one sentence in the Thought part.
- Coordinates are on a 1000x1000 grid over the screenshot.

## User Instruction
` + InstructionPlaceholder

// FirstTurn renders the opening human turn of a run.
func FirstTurn(systemPrompt, instruction string) string {
	if strings.TrimSpace(systemPrompt) == "" {
		return instruction
	}
	if strings.Contains(systemPrompt, InstructionPlaceholder) {
		return strings.ReplaceAll(systemPrompt, InstructionPlaceholder, instruction)
	}
	return strings.TrimRight(systemPrompt, "\n") + "\n\n## User Instruction\n" + instruction
}
