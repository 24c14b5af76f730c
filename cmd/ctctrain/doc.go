// Command ctctrain fine-tunes a character-level CTC speech recognizer.
//
// Typical use:
//
//	ctctrain config init
//	ctctrain vocab
//	ctctrain train --pretrained base
//	ctctrain evaluate output/checkpoint-1500
//	ctctrain transcribe output utterance.wav
//	ctctrain history
package main
