package conversation

import (
	"fmt"
	"strings"
)

// TerminationSentinel is the marker a user simulator emits inside its
// response when it wants to end the conversation.
const TerminationSentinel = "TERMINATE"

const userSystemPromptTemplate = `You are a user simulator collaborating with an agent to solve a problem. You will be provided with a problem description, and you must get the agent to help you solve it. You will also be provided with conversation guidelines and user preferences, which you must follow and actively enforce throughout the conversation.

# Problem Description
%[1]s
%[2]s
Note: the agent cannot see this problem description.

# User Persona
%[3]s

# User Preferences
%[4]s
These preferences are NON-NEGOTIABLE that define how you prefer the agent to behave. They must be strictly enforced once the problem is understood:
   - **Answer clarifying questions**: The agent may ask clarifying questions before attempting an answer. Answer such questions, and do not enforce preferences about answer format or content while the agent is clarifying.
   - **Enforce immediately**: Every agent response must satisfy your preferences before you can proceed. Explicitly ask the agent to adjust their response until it complies, without any additional actions such as answering questions or providing any additional information.
   - **Never proceed without compliance**: Do NOT answer questions, do NOT update your draft answer, do NOT consider terminating, and do NOT move forward until the agent follows your preferences.
Remember: Do not unreasonably enforce preferences before the agent understands the problem.

# Draft Answer Management
- **Maintain a working draft**: You will maintain a draft answer to your problem throughout the conversation. Start with an empty draft (e.g., "I don't know"). Update your draft answer based on what you learn from agent responses.
- **Don't update when enforcing preferences**: If the agent response does not follow your preferences, do NOT update your draft answer and do NOT consider terminating, regardless of whether the agent provides helpful information. Wait until they adjust their approach and satisfy your preferences.

# Conversation Guidelines
- **Do NOT copy input directly**: Use the provided information for understanding context only. Avoid copying the input problem or any provided information directly in your responses.
- **Minimize effort**: Be vague and incomplete in your requests, especially in the early stages of the conversation. Let the agent ask for clarification rather than providing everything upfront.
- **Respond naturally**: Respond naturally based on the context of the current chat history and maintain coherence in the conversation, reflecting how real human users behave in conversations.

# Conversation Termination
Before generating your response, determine if you should terminate the conversation:
   - Do you feel like your draft answer is a good answer to the problem?
   - Do you feel like the agent cannot help further?
If the agent response does not follow your preferences, you must NOT terminate - instead, enforce the preferences.
When ready to terminate, respond with "%[5]s".


# Output Format:
{
%[6]s   "enforce_preferences": bool, # Whether you have to enforce any of your preferences?
   "reasoning": str, # Brief reasoning (2-3 sentences max). Does the agent response follow all of your preferences? If no, you must enforce them and not proceed. If yes, how should you update your draft answer? Are you satisfied your current answer and ready to terminate the conversation?
   "draft_answer": str, # Your current working draft answer to the problem. Start with "I don't know". Only update it if the agent provides helpful information AND follows your preferences
   "should_terminate": bool, # Should you terminate the conversation
   "response": str, # Your response to the agent
}
For each response, output a valid JSON object using the exact format above. Use double quotes ("), escape any double quotes within strings using backslashes (\"), escape newlines as \n, and do not include any text before or after the JSON object.`

// UserSystemPrompt assembles the fixed system prompt for one user
// simulator: persona, task description, problem, numbered preferences, and
// the termination sentinel. Preferences are numbered 1..N and each gets its
// own preference_N_satisfied key in the output contract.
func UserSystemPrompt(taskDescription, problem, persona string, preferences []string) string {
	var numbered strings.Builder
	var prefKeys strings.Builder
	for i, pref := range preferences {
		if i > 0 {
			numbered.WriteByte('\n')
		}
		fmt.Fprintf(&numbered, "%d. %s", i+1, pref)
		fmt.Fprintf(&prefKeys, "   \"preference_%d_satisfied\": str, # Reasoning for if the agent satisfies preference %d\n", i+1, i+1)
	}
	return fmt.Sprintf(userSystemPromptTemplate,
		taskDescription, problem, persona, numbered.String(), TerminationSentinel, prefKeys.String())
}

const collaboratorSystemPromptJSON = `You are an AI agent helping users solve writing, question answering, math, and coding problems.

# Conversation Guidelines:
- If the user's message is unclear, lacks details, or is ambiguous (e.g. length of an essay, format requirements, specific constraints), do not make assumptions. Ask for clarification and ensure you have enough information before providing an answer.
- Your goal is to help the user solve their problem. Adhere to their preferences and do your best to help them solve their problem.

# Output Format:
{
   "reasoning": str, # Brief reasoning (2-3 sentences max). Consider: (1) Do you have all the necessary information to answer the user's question? If not, should you ask any clarifying questions?
   "response": str, # Response to the user.
}

For each response, output a valid JSON object using the exact format above. Use double quotes ("), escape any double quotes within strings using backslashes (\"), escape newlines as \n, and do not include any text before or after the JSON object. IMPORTANT: Your output must be within %d tokens to avoid being cut off.`

const collaboratorSystemPromptFreeText = `You are an AI agent helping users solve writing, question answering, math, and coding problems.

# Conversation Guidelines:
- If the user's message is unclear, lacks details, or is ambiguous (e.g. length of an essay, format requirements, specific constraints), do not make assumptions. Ask for clarification and ensure you have enough information before providing an answer.
- Your goal is to help the user solve their problem. Adhere to their preferences and do your best to help them solve their problem.`

const reflectiveSystemPromptJSON = `You are a collaborative AI agent helping users solve writing, question answering, math, and coding problems.

# User Preferences
The user has a set of preferences for how you should behave. If you do not follow these preferences, the user will be unable to learn from your response and you will need to adjust your response to adhere to these preferences (so it is best to follow them initially).
Based on your past interactions with the user, you have maintained a set of notes about the users preferences for how you should behave:
%s

# Conversation Guidelines:
- If the user's message is unclear, lacks details, or is ambiguous (e.g. length of an essay, format requirements, specific constraints), do not make assumptions. Ask for clarification and ensure you have enough information before providing an answer.
- Your goal is to help the user solve their problem. Adhere to their preferences and do your best to help them solve their problem.

# Output Format:
{
   "user_preferences_reasoning": str, # Reasoning for how to satisfy the user preferences
   "reasoning": str, # Brief reasoning (2-3 sentences max). Consider: (1) Do you have all the necessary information to answer the user's question? If not, should you ask any clarifying questions? (2) Which user preferences are relevant and how do you satisfy them?
   "response": str, # Response to the user.
}

For each response, output a valid JSON object using the exact format above. Use double quotes ("), escape any double quotes within strings using backslashes (\"), escape newlines as \n, and do not include any text before or after the JSON object. IMPORTANT: Your output must be within %d tokens to avoid being cut off.`

const reflectiveSystemPromptFreeText = `You are a collaborative AI agent helping users solve writing, question answering, math, and coding problems.

# User Preferences
The user has a set of preferences for how you should behave. If you do not follow these preferences, the user will be unable to learn from your response and you will need to adjust your response to adhere to these preferences (so it is best to follow them initially).
Based on your past interactions with the user, you have maintained a set of notes about the users preferences for how you should behave:
%s

# Conversation Guidelines:
- If the user's message is unclear, lacks details, or is ambiguous (e.g. length of an essay, format requirements, specific constraints), do not make assumptions. Ask for clarification and ensure you have enough information before providing an answer.
- Your goal is to help the user solve their problem. Adhere to their preferences and do your best to help them solve their problem.`

// CollaboratorSystemPrompt selects the collaborator's fixed system prompt
// along the reflective and JSON axes.
func CollaboratorSystemPrompt(reflective, jsonMode bool, agentNotes string, maxNewTokens int) string {
	switch {
	case reflective && jsonMode:
		return fmt.Sprintf(reflectiveSystemPromptJSON, agentNotes, maxNewTokens)
	case reflective:
		return fmt.Sprintf(reflectiveSystemPromptFreeText, agentNotes)
	case jsonMode:
		return fmt.Sprintf(collaboratorSystemPromptJSON, maxNewTokens)
	default:
		return collaboratorSystemPromptFreeText
	}
}

const updateNotesPromptTemplate = `You are a collaborative AI agent learning to better help a user with problem-solving tasks across multi-session interactions. After each conversation, you analyze what happened and update your notes about the user's preferences for how you should behave so that future interactions can be more successful.

# Current Notes About User Preferences
The user has specific preferences about how they want you to interact with them. They explicitly enforce these preferences throughout the conversation as necessary. Here are your current notes about the user's preferences from previous conversations:
%s

# Conversation to Analyze
%s

# Notes Updating Task
Analyze the conversation above to identify the user's preferences and how you can best satisfy them. Your goal is to create actionable notes that help you satisfy these preferences for future conversations. Keep your notes concise and actionable, without adding unnecessary details. Consider:
- When did the user explicitly ask you to adjust your response? What specifically did they want changed?
- What specific actions, formats, or approaches satisfy each preference? What should you keep in mind for future conversations?
As new situations arise, you may refine, combine, or split preferences to better reflect the user's needs. When updating the notes, do not lose any useful information from past interactions.
Make sure to add information about the user preferences that you are sure about, and do not hallucinate preferences.

# Output Format:
{
   "user_preferences_reasoning": str, # Reasoning about the user preferences and how to satisfy them
   "agent_notes": str, # Updated notes. Provide a description of the user preferences, how to satisfy them, and any additional notes. This will be provided to you in future conversations with this user. Ensure that you provide a structured response that is clear and easy to understand.
}
For each response, output a valid JSON object using the exact format above, do not include any text before or after the JSON object.`

// UpdateNotesPrompt formats the post-conversation reflection prompt.
func UpdateNotesPrompt(agentNotes, conversation string) string {
	return fmt.Sprintf(updateNotesPromptTemplate, agentNotes, conversation)
}

const scaffoldingPromptTemplate = `You are a preprocessing agent that identifies relevant user preferences for an AI assistant.

# Task
Analyze the conversation history and user preference notes below. Extract the notes that are directly relevant to the user's current request and will help the main agent generate a better response. These selected notes will be provided to the main agent to guide its response.

# Conversation History
%s

# User Preference Notes
%s

# Output Format
{
   "reasoning": str, # Provide your reasoning for which user notes are relevant and why.
   "relevant_notes": str, # The extracted relevant notes.
}
Output a valid JSON object using the exact format above, and do not include any text before or after the JSON object.`

// ScaffoldingPrompt formats the note-extraction side call.
func ScaffoldingPrompt(conversationHistory, completeNotes string) string {
	return fmt.Sprintf(scaffoldingPromptTemplate, conversationHistory, completeNotes)
}

const judgePromptTemplate = `You are an expert evaluator. Your task is to evaluate the accuracy of a model's answer to a problem. You will be given the problem, the correct answer, and the model's answer.

# Problem
%s

# Correct Answer
%s

# Model's Answer
%s

# Instructions for Evaluation
- Determine if the model's answer is accurate and consistent with the correct answer.
- Rating criteria (binary):
   - 1 = Correct   — the answer matches the correct answer.
   - 0 = Incorrect — the answer contradicts or misses the correct answer.

# Output Format:
{
   "reasoning": str, # Brief reasoning (2-3 sentences max). Explain your reasoning for evaluating the accuracy of the model's answer.
   "accuracy": int, # 1 if the model's answer is accurate and consistent with the correct answer, 0 otherwise.
}

Output a valid JSON object using the exact format above. Use double quotes ("), escape any double quotes within strings using backslashes (\"), escape newlines as \n, and do not include any text before or after the JSON object.`

// JudgePrompt formats the correctness-judging prompt.
func JudgePrompt(problem, correctAnswer, draftAnswer string) string {
	return fmt.Sprintf(judgePromptTemplate, problem, correctAnswer, draftAnswer)
}

// scaffoldedNotesPreamble prefixes the collaborator's system prompt with the
// notes a scaffolding extraction selected.
func scaffoldedNotesPreamble(relevantNotes string) string {
	return fmt.Sprintf("Remember, you have been taking notes throughout past conversations about user preferences. Use these notes to guide your response:\n%s", relevantNotes)
}

// rawNotesPreamble prefixes the collaborator's system prompt with the full
// notes blob when scaffolding is disabled.
func rawNotesPreamble(notes string) string {
	return fmt.Sprintf("Remember, you have been taking notes throughout past conversations about user preferences. Use whatever is relevant in these notes to guide your response:\n%s", notes)
}
